package domain

// Outcome is the classification a finished download task returns.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeWarning
	OutcomeError
	OutcomeFilesizeAbort
	OutcomeAlreadyExists
	OutcomeStopped
)

var outcomeNames = map[Outcome]string{
	OutcomeOK:            "OK",
	OutcomeWarning:       "WARNING",
	OutcomeError:         "ERROR",
	OutcomeFilesizeAbort: "FILESIZE_ABORT",
	OutcomeAlreadyExists: "ALREADY_EXISTS",
	OutcomeStopped:       "STOPPED",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// Successful reports whether the outcome counts towards the success total.
func (o Outcome) Successful() bool {
	return o == OutcomeOK || o == OutcomeAlreadyExists
}

// Status texts reported for an item while queued, in flight and once its task has returned.
const (
	StatusQueued         = "Queued"
	StatusDownloading    = "Downloading"
	StatusPostProcessing = "Post Processing"
	StatusFinished       = "Finished"
	StatusWarning        = "Warning"
	StatusError          = "Error"
	StatusFilesizeAbort  = "Filesize Abort"
	StatusAlready        = "Already Downloaded"
	StatusStopped        = "Stopped"
)

// FinalStatus maps an outcome to the text reported with the last StatusEvent of a task.
func (o Outcome) FinalStatus() string {
	switch o {
	case OutcomeOK:
		return StatusFinished
	case OutcomeWarning:
		return StatusWarning
	case OutcomeFilesizeAbort:
		return StatusFilesizeAbort
	case OutcomeAlreadyExists:
		return StatusAlready
	case OutcomeStopped:
		return StatusStopped
	default:
		return StatusError
	}
}

// StatusEvent is one progress update for an in-flight item.
// Empty strings mean the downloader did not report the field.
type StatusEvent struct {
	RowIndex      int    `json:"index"`
	Status        string `json:"status,omitempty"`
	PlaylistIndex string `json:"playlist_index,omitempty"`
	PlaylistSize  string `json:"playlist_size,omitempty"`
	Filename      string `json:"filename,omitempty"`
	Extension     string `json:"extension,omitempty"`
	Filesize      string `json:"filesize,omitempty"`
	Percent       string `json:"percent,omitempty"`
	Speed         string `json:"speed,omitempty"`
	ETA           string `json:"eta,omitempty"`
}

// HasPlaylistInfo reports whether both playlist position and size are present.
func (e StatusEvent) HasPlaylistInfo() bool {
	return e.PlaylistIndex != "" && e.PlaylistSize != ""
}

// Signal is a pool lifecycle notification.
type Signal string

const (
	SignalClosing  Signal = "closing"
	SignalClosed   Signal = "closed"
	SignalFinished Signal = "finished"
)

// Terminal reports whether no further events follow the signal.
func (s Signal) Terminal() bool {
	return s == SignalClosed || s == SignalFinished
}
