package diag_test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickschaefer/cicqte/internal/diag"
)

func TestError_IsByKind(t *testing.T) {
	v := diag.Validationf("column %q not found", "y")
	assert.True(t, errors.Is(v, diag.ErrValidation))
	assert.False(t, errors.Is(v, diag.ErrDataSufficiency))
	assert.Equal(t, `validation: column "y" not found`, v.Error())

	d := diag.DataSufficiencyf("all cohorts undersized")
	wrapped := fmt.Errorf("run: %w", d)
	assert.True(t, errors.Is(wrapped, diag.ErrDataSufficiency))

	var de *diag.Error
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, diag.KindDataSufficiency, de.Kind)
}

func TestWrapValidation_KeepsCause(t *testing.T) {
	cause := errors.New("strconv: bad")
	err := diag.WrapValidation(cause, "row %d", 3)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, diag.ErrValidation))
	assert.Contains(t, err.Error(), "row 3")
}

func TestWarning_String(t *testing.T) {
	w := diag.Warning{Kind: diag.WarnDataSufficiency, Replicate: 4, Combination: "c1=2|c2=3|t1=2|t0=1", Message: "skipped"}
	assert.Equal(t, "data_sufficiency [rep 4] [c1=2|c2=3|t1=2|t0=1]: skipped", w.String())

	run := diag.Warning{Kind: diag.WarnConfiguration, Replicate: diag.RunLevel, Message: "coerced"}
	assert.Equal(t, "configuration: coerced", run.String())
}

func TestCollector_ConcurrentAndOrdered(t *testing.T) {
	c := diag.NewCollector(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	var wg sync.WaitGroup
	for j := 9; j >= 0; j-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 3; k++ {
				c.Warnf(diag.WarnDataSufficiency, j, fmt.Sprintf("combo-%d", k), "skip %d", k)
			}
		}()
	}
	wg.Wait()
	c.Warnf(diag.WarnConfiguration, diag.RunLevel, "", "run level")

	all := c.Warnings()
	require.Len(t, all, 31)
	assert.Equal(t, diag.RunLevel, all[0].Replicate)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Replicate, all[i].Replicate)
	}

	rep3 := c.ForReplicate(3)
	require.Len(t, rep3, 3)
	for k, w := range rep3 {
		assert.Equal(t, fmt.Sprintf("combo-%d", k), w.Combination, "insertion order within a replicate")
	}
	assert.Equal(t, 30, c.Count(diag.WarnDataSufficiency))
	assert.Equal(t, 1, c.Count(diag.WarnConfiguration))
}

func TestCollector_ThrottlesLogButKeepsWarnings(t *testing.T) {
	var buf bytes.Buffer
	c := diag.NewCollector(slog.New(slog.NewTextHandler(&buf, nil)))
	for j := 0; j < 100; j++ {
		c.Warnf(diag.WarnDataSufficiency, j, "", "skipped")
	}
	assert.Equal(t, 100, c.Count(diag.WarnDataSufficiency))
	lines := strings.Count(buf.String(), "\n")
	assert.GreaterOrEqual(t, lines, 5)
	assert.Less(t, lines, 100)
}
