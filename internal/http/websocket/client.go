package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient wraps a single upgraded websocket connection. Writes are
// serialised through a mutex as gorilla connections permit only one
// concurrent writer.
type socketClient struct {
	id         *uuid.UUID
	socket     *websocket.Conn
	writeMutex sync.Mutex
}

// SendMessage marshals the message provided and writes it to the clients
// socket.
func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	return client.socket.WriteJSON(message)
}

// Read consumes messages from the clients socket until it closes or errors,
// forwarding each decoded message (stamped with this clients ID as it's
// origin) on the channel provided.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var message SocketMessage
		if err := client.socket.ReadJSON(&message); err != nil {
			return err
		}

		message.Origin = client.id
		receiveCh <- &message
	}
}

func (client *socketClient) Close() error {
	return client.socket.Close()
}
