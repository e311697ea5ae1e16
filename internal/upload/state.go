package upload

import "fmt"

// State is a stage of an entity-creation-with-media workflow.
type State int

const (
	Drafting State = iota
	Persisting
	Persisted
	UploadingAssets
	Finalizing
	Complete
	Failed
)

var stateNames = map[State]string{
	Drafting:        "drafting",
	Persisting:      "persisting",
	Persisted:       "persisted",
	UploadingAssets: "uploading_assets",
	Finalizing:      "finalizing",
	Complete:        "complete",
	Failed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further forward transition is possible.
// Failed still admits Finalizing when the failure happened there.
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

var transitions = map[State][]State{
	Drafting:        {Persisting, Failed},
	Persisting:      {Persisted, Failed},
	Persisted:       {UploadingAssets, Failed},
	UploadingAssets: {Finalizing, Failed},
	Finalizing:      {Complete, Failed},
	Failed:          {Finalizing},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
