package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tileproxy/tileproxy/internal/concurrency"
	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/store"
	"github.com/tileproxy/tileproxy/internal/store/xyzstore"
	"github.com/tileproxy/tileproxy/internal/tile"
)

const onePxPNG = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89\x00\x00\x00\nIDATx\x9cc\x00\x01\x00\x00\x05\x00\x01\r\n-\xb4\x00\x00\x00\x00IEND\xaeB`\x82"

func openXYZ(t *testing.T) *xyzstore.Store {
	t.Helper()
	s, err := xyzstore.Open(t.TempDir(), "png", true, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func singleTileCoverage() tile.Coverage {
	return tile.NewCoverage(tile.NewBBox(-10, -10, 10, 10), 0, 0)
}

func TestRunCopiesSourceToTarget(t *testing.T) {
	src := openXYZ(t)
	c := tile.NewCoords(0, 0, 0)
	require.NoError(t, src.Put(context.Background(), c, []byte(onePxPNG), true))

	target := openXYZ(t)
	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	exp := New(res, nil)

	params := Params{
		ID:          "fixture",
		Source:      resolver.TileSource{Store: src},
		Target:      target,
		Coverages:   []tile.Coverage{singleTileCoverage()},
		Concurrency: 2,
		Refresh:     RefreshUnconditional(),
	}
	token := concurrency.NewCancelToken()

	n, err := exp.Run(context.Background(), params, token, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	data, err := target.Get(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, onePxPNG, string(data))
	require.Equal(t, concurrency.StateIdle, token.State(), "Run must not drive the token's lifecycle")
}

func TestRunSkipsFreshTargetUnderThresholdPolicy(t *testing.T) {
	src := openXYZ(t)
	c := tile.NewCoords(0, 0, 0)
	require.NoError(t, src.Put(context.Background(), c, []byte(onePxPNG), true))

	target := openXYZ(t)
	// Pre-seed the target with different bytes; a threshold policy with
	// a threshold in the past should consider it already fresh and skip it.
	differentPNG := []byte(onePxPNG)
	differentPNG[len(differentPNG)-1] = 0x00
	require.NoError(t, target.Put(context.Background(), c, differentPNG, true))

	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	exp := New(res, nil)

	params := Params{
		ID:          "fixture",
		Source:      resolver.TileSource{Store: src},
		Target:      target,
		Coverages:   []tile.Coverage{singleTileCoverage()},
		Concurrency: 2,
		Refresh:     RefreshBeforeTime(time.Now().Add(-24 * time.Hour)),
	}
	token := concurrency.NewCancelToken()

	_, err := exp.Run(context.Background(), params, token, nil)
	require.NoError(t, err)

	data, err := target.Get(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, differentPNG, data, "pre-seeded tile should not have been overwritten")
}

func TestRunStopsStartingNewTilesOnceCancelRequested(t *testing.T) {
	src := openXYZ(t)
	target := openXYZ(t)
	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	exp := New(res, nil)

	token := concurrency.NewCancelToken()
	require.True(t, token.Start())
	require.True(t, token.RequestCancel())

	n, err := exp.Run(context.Background(), Params{
		ID:          "fixture",
		Source:      resolver.TileSource{Store: src},
		Target:      target,
		Coverages:   []tile.Coverage{singleTileCoverage()},
		Concurrency: 1,
		Refresh:     RefreshUnconditional(),
	}, token, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n, "Run still reports how many tiles the coverage named")

	count, err := target.CountTiles(context.Background())
	require.NoError(t, err)
	require.Zero(t, count, "no tile should have been written once cancel was requested")
}

func TestRunMissingUpstreamTileIsNotAnError(t *testing.T) {
	src := openXYZ(t) // empty: every resolve is a miss, no forward configured
	target := openXYZ(t)
	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	exp := New(res, nil)

	token := concurrency.NewCancelToken()
	n, err := exp.Run(context.Background(), Params{
		ID:          "fixture",
		Source:      resolver.TileSource{Store: src},
		Target:      target,
		Coverages:   []tile.Coverage{singleTileCoverage()},
		Concurrency: 1,
		Refresh:     RefreshUnconditional(),
	}, token, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := target.CountTiles(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}
