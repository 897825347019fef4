package model

import (
	"path/filepath"
	"strings"
	"time"
)

// RepoType identifies the builder a repository is routed to.
type RepoType string

const (
	RepoTypeUnknown RepoType = ""
	RepoTypeRPM     RepoType = "rpm"
	RepoTypeDEB     RepoType = "deb"
)

// Known reports whether a builder exists for the type.
func (t RepoType) Known() bool {
	return t == RepoTypeRPM || t == RepoTypeDEB
}

// ParseRepoType maps a stored value to a RepoType, unknown values map to RepoTypeUnknown.
func ParseRepoType(s string) RepoType {
	switch RepoType(strings.ToLower(s)) {
	case RepoTypeRPM:
		return RepoTypeRPM
	case RepoTypeDEB:
		return RepoTypeDEB
	}
	return RepoTypeUnknown
}

// Binary is a package file owned by exactly one Repo.
type Binary struct {
	ID     int64  `json:"id"`
	RepoID int64  `json:"repo_id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// Repo is a repository built from the binaries of one project ref/sha1/distro.
type Repo struct {
	ID            int64                  `json:"id"`
	Project       string                 `json:"project_name"`
	Ref           string                 `json:"ref"`
	Sha1          string                 `json:"sha1"`
	Distro        string                 `json:"distro"`
	DistroVersion string                 `json:"distro_version"`
	Flavor        string                 `json:"flavor"`
	Type          RepoType               `json:"type"`
	NeedsUpdate   bool                   `json:"needs_update"`
	IsQueued      bool                   `json:"is_queued"`
	IsUpdating    bool                   `json:"is_updating"`
	UpdatingSince *time.Time             `json:"updating_since,omitempty"`
	Path          string                 `json:"path,omitempty"`
	Modified      time.Time              `json:"modified"`
	Extra         map[string]interface{} `json:"extra"`
	Binaries      []Binary               `json:"-"`
}

var rpmExtensions = []string{".rpm"}
var debExtensions = []string{".deb", ".udeb", ".ddeb", ".dsc"}

// InferType guesses the repository type from the names of its binaries.
// The first binary with a recognised extension wins.
func (r *Repo) InferType() (RepoType, bool) {
	for _, b := range r.Binaries {
		name := b.Name
		if name == "" {
			name = filepath.Base(b.Path)
		}
		name = strings.ToLower(name)
		for _, ext := range rpmExtensions {
			if strings.HasSuffix(name, ext) {
				return RepoTypeRPM, true
			}
		}
		for _, ext := range debExtensions {
			if strings.HasSuffix(name, ext) {
				return RepoTypeDEB, true
			}
		}
	}
	return RepoTypeUnknown, false
}

// DefaultDir composes the default on-disk location of a built repository.
func (r *Repo) DefaultDir(root string) string {
	flavor := r.Flavor
	if flavor == "" {
		flavor = "default"
	}
	return filepath.Join(root, r.Project, r.Ref, r.Sha1, r.Distro, r.DistroVersion, flavor)
}
