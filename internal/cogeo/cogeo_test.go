package cogeo

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, append([]string{name}, args...))

	if r.fail != "" && strings.Contains(args[1], r.fail) {
		return []byte("ERROR: cannot open"), errors.New("exit status 1")
	}

	return nil, nil
}

func TestPairName(t *testing.T) {
	tests := []struct {
		product string
		want    string
		wantErr bool
	}{
		{"/int/S1-GUNW-A-R-087-tops_20190513T161605-20190501T161530_v1.2.1-standard", "20190513-20190501", false},
		{"S1_x_20200101-20191220_v1.2.1-standard", "20200101-20191220", false},
		{"S1-v1.2.1-standard", "", true},
		{"S1_2020-2019_v1.2.1-standard", "", true},
		{"S1_20200101_v1.2.1-standard", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			got, err := PairName(tt.product)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertAll(t *testing.T) {
	fs := afero.NewMemMapFs()

	products := []string{
		"S1-GUNW_20190513T161605-20190501T161530_v1.2.1-standard",
		"S1-GUNW_20190525T161605-20190513T161530_v1.2.1-standard",
		"S1-GUNW_bad_v1.2.1-standard",
	}
	for _, p := range products {
		require.NoError(t, fs.MkdirAll(filepath.Join("/int", p, "merged"), 0o755))
	}

	require.NoError(t, fs.MkdirAll("/int/S1-GUNW_20200101-20191220_v1.3.0-standard", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/int/S1_file_v1.2.1-standard", []byte("not a dir"), 0o644))

	runner := &recordingRunner{fail: "20190525T161605"}

	res, err := NewConverter(fs, runner).ConvertAll(context.Background(), "/int", "/cogs")
	require.NoError(t, err)

	assert.Equal(t, Result{Total: 3, Converted: 1, Failed: 2}, res)

	ok, err := afero.DirExists(fs, "/cogs")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, runner.calls, 2)

	sort.Slice(runner.calls, func(i, j int) bool { return runner.calls[i][2] < runner.calls[j][2] })

	assert.Equal(t, []string{
		"rio", "cogeo",
		"/int/S1-GUNW_20190513T161605-20190501T161530_v1.2.1-standard/merged/filt_topophase.unw.geo.vrt",
		"/cogs/20190513-20190501-unw.geo.tif",
		"-b", "2", "-p", "deflate", "--nodata", "0",
	}, runner.calls[0])
}

func TestConvertAll_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/int/S1_20190513-20190501_v1.2.1-standard", 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewConverter(fs, &recordingRunner{}).ConvertAll(ctx, "/int", "/cogs")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Converted)
}
