package worker

import "github.com/telegrab/telegrab/pkg/logger"

var workerLogger = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int

	// WorkerTask is the unit of work a Worker runs in a loop. The boolean
	// return indicates whether any work was actually performed; when no work
	// was available the worker will go back to sleep until woken.
	WorkerTask func(Worker) (bool, error)
)

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

type Worker interface {
	Start()
	Status() WorkerStatus
	WakeupChan() WorkerWakeupChan
	Label() string
	Sleep() bool
	Close()
}

type taskWorker struct {
	label         string
	task          WorkerTask
	wakeupChan    WorkerWakeupChan
	currentStatus WorkerStatus
}

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{
		label:         label,
		task:          task,
		wakeupChan:    make(WorkerWakeupChan),
		currentStatus: SLEEPING,
	}
}

// Start runs the workers task in a loop. When the task reports that no work
// was available, the worker sleeps until it's woken via it's wakeup channel.
// The loop exits once the wakeup channel is closed.
func (worker *taskWorker) Start() {
	worker.currentStatus = WORKING
	for {
		didWork, err := worker.task(worker)
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker '%v' task reported error(%T): %v\n", worker.label, err, err.Error())
		}

		if !didWork {
			if isAlive := worker.Sleep(); !isAlive {
				return
			}
		}
	}
}

func (worker *taskWorker) Status() WorkerStatus {
	return worker.currentStatus
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeupChan.
// Note that this does not interrupt a currently running task.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

func (worker *taskWorker) Label() string {
	return worker.label
}

// Sleep puts a worker to sleep until it's wakeupChan is
// signalled from another goroutine. Returns a boolean that
// is 'false' if the wakeup channel was closed - indicating
// the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus = SLEEPING

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus = WORKING
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
		worker.currentStatus = FINISHED
	}

	return isAlive
}
