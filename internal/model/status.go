package model

import (
	"encoding/json"
	"sort"
)

// State is the lifecycle state advertised to callback consumers.
type State string

const (
	StateRequested State = "requested"
	StateQueued    State = "queued"
	StateBuilding  State = "building"
	StateReady     State = "ready"
	StateFailed    State = "failed"
	StateDeleted   State = "deleted"
)

// StatusPayload is the JSON body of a repository callback.
type StatusPayload struct {
	*Repo
	State    State    `json:"state"`
	Binaries []string `json:"binaries"`
}

// NewStatusPayload snapshots the repo for a state change notification.
func NewStatusPayload(state State, repo *Repo) StatusPayload {
	names := make([]string, 0, len(repo.Binaries))
	for _, b := range repo.Binaries {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return StatusPayload{Repo: repo, State: state, Binaries: names}
}

// Encode renders the payload as a JSON string, the form carried by queue tasks.
func (p StatusPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
