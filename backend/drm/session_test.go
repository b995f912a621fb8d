package drm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeSession struct {
	DirectSession
	vts []int
}

func (s *fakeSession) SwitchVT(vt int) error {
	s.vts = append(s.vts, vt)
	return nil
}

func TestSwitchVTRange(t *testing.T) {
	var s DirectSession
	assert.ErrorIs(t, s.SwitchVT(0), ErrInvalidVT)
	assert.ErrorIs(t, s.SwitchVT(-1), ErrInvalidVT)
	assert.ErrorIs(t, s.SwitchVT(maxVT+1), ErrInvalidVT)
}

func TestSwitchVTNeedsTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	err := DirectSession{TTY: path}.SwitchVT(2)
	assert.ErrorIs(t, err, unix.ENOTTY)

	err = DirectSession{TTY: filepath.Join(t.TempDir(), "missing")}.SwitchVT(2)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBackendSwitchVT(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := fakeSession{}
	b := New(Config{Session: &s}, log)

	require.NoError(t, b.SwitchVT(4))
	assert.Equal(t, []int{4}, s.vts)
}
