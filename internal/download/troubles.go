package download

// TroubleStage identifies the pipeline stage which raised a trouble.
type TroubleStage int

const (
	FETCH_FAILURE TroubleStage = iota
	SHRINK_FAILURE
	DELIVERY_FAILURE
)

// Trouble represents an error raised while processing a download item. It is
// attached to the item rather than returned so the item (and it's failure
// reason) remains visible to the user and the API until it is finalised.
type Trouble struct {
	error
	stage TroubleStage
}

func NewTrouble(err error, stage TroubleStage) *Trouble {
	return &Trouble{error: err, stage: stage}
}

func (t *Trouble) Stage() TroubleStage { return t.stage }

func (s TroubleStage) String() string {
	switch s {
	case FETCH_FAILURE:
		return "download"
	case SHRINK_FAILURE:
		return "shrink"
	case DELIVERY_FAILURE:
		return "delivery"
	default:
		return "unknown"
	}
}
