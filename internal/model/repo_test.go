package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepo_InferType(t *testing.T) {
	tests := []struct {
		name     string
		binaries []Binary
		want     RepoType
		wantOK   bool
	}{
		{name: "no binaries"},
		{name: "deb", binaries: []Binary{{Name: "x.deb"}}, want: RepoTypeDEB, wantOK: true},
		{name: "rpm", binaries: []Binary{{Name: "ceph-1.0.x86_64.rpm"}}, want: RepoTypeRPM, wantOK: true},
		{name: "source rpm", binaries: []Binary{{Name: "ceph-1.0.src.rpm"}}, want: RepoTypeRPM, wantOK: true},
		{name: "dsc", binaries: []Binary{{Name: "ceph_1.0.dsc"}}, want: RepoTypeDEB, wantOK: true},
		{name: "name from path", binaries: []Binary{{Path: "/srv/bin/ceph.DEB"}}, want: RepoTypeDEB, wantOK: true},
		{name: "unrecognised", binaries: []Binary{{Name: "ceph.tar.gz"}, {Name: "README"}}},
		{
			name:     "first match wins",
			binaries: []Binary{{Name: "notes.txt"}, {Name: "a.rpm"}, {Name: "b.deb"}},
			want:     RepoTypeRPM,
			wantOK:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Repo{Binaries: tt.binaries}
			got, ok := r.InferType()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestParseRepoType(t *testing.T) {
	assert.Equal(t, RepoTypeRPM, ParseRepoType("RPM"))
	assert.Equal(t, RepoTypeDEB, ParseRepoType("deb"))
	assert.Equal(t, RepoTypeUnknown, ParseRepoType("raw"))
	assert.Equal(t, RepoTypeUnknown, ParseRepoType(""))
}

func TestRepo_DefaultDir(t *testing.T) {
	r := Repo{Project: "ceph", Ref: "firefly", Sha1: "head", Distro: "ubuntu", DistroVersion: "trusty"}
	assert.Equal(t, "/srv/repos/ceph/firefly/head/ubuntu/trusty/default", r.DefaultDir("/srv/repos"))

	r.Flavor = "notcmalloc"
	assert.Equal(t, "/srv/repos/ceph/firefly/head/ubuntu/trusty/notcmalloc", r.DefaultDir("/srv/repos"))
}

func TestStatusPayload_Encode(t *testing.T) {
	r := &Repo{
		ID:       7,
		Project:  "ceph",
		Type:     RepoTypeDEB,
		Binaries: []Binary{{Name: "b.deb"}, {Name: "a.deb"}},
	}
	s, err := NewStatusPayload(StateQueued, r).Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	assert.Equal(t, "queued", decoded["state"])
	assert.Equal(t, "ceph", decoded["project_name"])
	assert.Equal(t, "deb", decoded["type"])
	assert.Equal(t, float64(7), decoded["id"])
	assert.Equal(t, []interface{}{"a.deb", "b.deb"}, decoded["binaries"])
}
