package ipc

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeguard/pipeguard/pkg/types"
)

func TestSamePath(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "/usr/bin/app", "/usr/bin/app", true},
		{"case differs", `C:\Program Files\App\app.exe`, `c:\program files\app\APP.EXE`, true},
		{"unclean", "/usr/bin/../bin/app", "/usr/bin/app", true},
		{"different directory", "/usr/bin/app", "/tmp/app", false},
		{"different name", "/usr/bin/app", "/usr/bin/app2", false},
		{"empty left", "", "/usr/bin/app", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samePath(tt.a, tt.b))
		})
	}
}

func TestPathVerifier(t *testing.T) {
	self, err := currentExecutable()
	require.NoError(t, err)

	tests := []struct {
		name     string
		resolver *fakeResolver
		wantErr  bool
		wantPID  int
	}{
		{"same executable", &fakeResolver{pid: 7, path: self}, false, 7},
		{"different executable", &fakeResolver{pid: 7, path: self + ".copy"}, true, 7},
		{"peer pid fails", &fakeResolver{pidErr: errBoom}, true, 0},
		{"executable lookup fails", &fakeResolver{pid: 7, pathErr: errBoom}, true, 7},
		{"unsupported platform", &fakeResolver{pidErr: types.NewError(types.ErrCodeUnsupported, "nope")}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewPathVerifier(tt.resolver)
			require.NoError(t, err)
			assert.Equal(t, self, v.SelfPath())

			left, right := net.Pipe()
			defer left.Close()
			defer right.Close()

			pid, err := v.Verify(left)
			assert.Equal(t, tt.wantPID, pid)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsErrCode(err, types.ErrCodePermissionDenied))
			if tt.resolver.pidErr != nil {
				assert.True(t, errors.Is(err, tt.resolver.pidErr))
			}
		})
	}
}

func TestNewPathVerifierDefaultsToPlatformResolver(t *testing.T) {
	v, err := NewPathVerifier(nil)
	require.NoError(t, err)
	assert.IsType(t, platformResolver{}, v.resolver)
}
