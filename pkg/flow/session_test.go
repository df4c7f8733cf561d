package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridPosition(t *testing.T) {
	// 500x300 windows tile three per 1920px row, rows 340px apart.
	tests := []struct {
		workerID int
		wantX    int
		wantY    int
	}{
		{0, 0, 0},
		{1, 500, 0},
		{2, 1000, 0},
		{3, 0, 340},
		{4, 500, 340},
		{9, 0, 0}, // fourth row would run offscreen, restart at the top
	}
	for _, tt := range tests {
		x, y := gridPosition(tt.workerID, 500, 300)
		assert.Equal(t, tt.wantX, x, "worker %d x", tt.workerID)
		assert.Equal(t, tt.wantY, y, "worker %d y", tt.workerID)
	}
}

func TestGridPositionZeroSizeDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		x, y := gridPosition(3, 0, 0)
		assert.GreaterOrEqual(t, x, 0)
		assert.GreaterOrEqual(t, y, 0)
	})
}

func TestGridPositionTallWindowResetsEachRow(t *testing.T) {
	// A 700-tall window leaves no room for a second row on a 1080 screen;
	// later rows overlap at the top instead of going offscreen.
	x, y := gridPosition(3, 500, 700)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestGridPositionOversizedWindow(t *testing.T) {
	// A window wider than the screen still gets one column.
	x, y := gridPosition(1, 2500, 700)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y) // row 1 would overflow 1080, reset
}

func TestParsePair(t *testing.T) {
	w, h := parsePair("500x700", "x", 1, 2)
	assert.Equal(t, 500, w)
	assert.Equal(t, 700, h)

	x, y := parsePair("10, 20", ",", 0, 0)
	assert.Equal(t, 10, x)
	assert.Equal(t, 20, y)

	w, h = parsePair("garbage", "x", 500, 700)
	assert.Equal(t, 500, w)
	assert.Equal(t, 700, h)

	w, h = parsePair("axb", "x", 500, 700)
	assert.Equal(t, 500, w)
	assert.Equal(t, 700, h)
}

func TestMarkerSelectorCoversEveryMarker(t *testing.T) {
	markers := []Marker{
		MarkerEmailField, MarkerEmailNext, MarkerPasswordField, MarkerPasswordNext,
		MarkerVerificationRobot, MarkerVerification2FA, MarkerContinueButton,
		MarkerAllowButton, MarkerAccountChooser, MarkerCode, MarkerAcceptButton,
		MarkerAlreadyAccepted,
	}
	for _, m := range markers {
		sel, err := markerSelector(m, "alice@example.com")
		require.NoError(t, err, m.String())
		assert.NotEmpty(t, sel.expr, m.String())
	}

	_, err := markerSelector(MarkerNone, "alice@example.com")
	assert.Error(t, err)
}

func TestMarkerSelectorAccountChooserUsesAccount(t *testing.T) {
	sel, err := markerSelector(MarkerAccountChooser, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, sel.xpath)
	assert.Contains(t, sel.expr, "bob@example.com")
}

func TestMarkerSelectorCodePrefix(t *testing.T) {
	sel, err := markerSelector(MarkerCode, "")
	require.NoError(t, err)
	assert.Contains(t, sel.expr, codePrefix)
}
