package settings

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = WatermarkSettings{
	Text:      "Your Text",
	FontSize:  24,
	FontColor: "white",
	Position:  PositionBottomRight,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watermark_settings.json")
	return NewStore(path, testDefaults, discardLogger())
}

func readFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func ptr[T any](v T) *T { return &v }

func TestStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, testDefaults, s.Load())
	assert.Equal(t, testDefaults, s.Snapshot())

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "loading must not create the file")
}

func TestStore_LoadCorruptFileReturnsDefaults(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{not-json"},
		{"wrong type", `{"font_size": "big"}`},
		{"out of range font size", `{"text":"x","font_size":500,"font_color":"white","position":"center"}`},
		{"unknown position", `{"text":"x","font_size":20,"font_color":"white","position":"middle"}`},
		{"injection in color", `{"text":"x","font_size":20,"font_color":"white:x=1","position":"center"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			s := NewStore(path, testDefaults, discardLogger())
			assert.Equal(t, testDefaults, s.Load())
			assert.Equal(t, testDefaults, s.Snapshot())
		})
	}
}

func TestStore_LoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"@channel"}`), 0o644))

	s := NewStore(path, testDefaults, discardLogger())

	got := s.Load()
	assert.Equal(t, "@channel", got.Text)
	assert.Equal(t, 24, got.FontSize)
	assert.Equal(t, "white", got.FontColor)
	assert.Equal(t, PositionBottomRight, got.Position)
}

func TestStore_UpdateSubsetKeepsOtherFields(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Update(Changes{Text: ptr("Sample")}))
	require.NoError(t, s.Update(Changes{Position: ptr(PositionTopLeft)}))

	want := WatermarkSettings{
		Text:      "Sample",
		FontSize:  24,
		FontColor: "white",
		Position:  PositionTopLeft,
	}
	assert.Equal(t, want, s.Snapshot())

	// Round trip through a fresh store reading the same file.
	reloaded := NewStore(s.Path(), testDefaults, discardLogger())
	assert.Equal(t, want, reloaded.Load())

	raw := readFile(t, s.Path())
	assert.Equal(t, "Sample", raw["text"])
	assert.Equal(t, float64(24), raw["font_size"])
	assert.Equal(t, "white", raw["font_color"])
	assert.Equal(t, "top_left", raw["position"])
}

func TestStore_UpdateRejectsOutOfRangeFontSize(t *testing.T) {
	for _, size := range []int{-1, 0, 9, 101, 1000} {
		s := newTestStore(t)
		require.NoError(t, s.Update(Changes{FontSize: ptr(30)}))
		before, err := os.ReadFile(s.Path())
		require.NoError(t, err)

		err = s.Update(Changes{FontSize: ptr(size), Text: ptr("should not stick")})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "size %d", size)
		assert.Equal(t, FieldFontSize, verr.Field)
		assert.ErrorIs(t, err, ErrInvalidSettings)

		assert.Equal(t, 30, s.Get(FieldFontSize))
		assert.Equal(t, "Your Text", s.Get(FieldText))

		after, err := os.ReadFile(s.Path())
		require.NoError(t, err)
		assert.Equal(t, before, after, "file must be untouched")
	}
}

func TestStore_UpdateAcceptsBoundaryFontSizes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(Changes{FontSize: ptr(MinFontSize)}))
	assert.Equal(t, MinFontSize, s.Get(FieldFontSize))
	require.NoError(t, s.Update(Changes{FontSize: ptr(MaxFontSize)}))
	assert.Equal(t, MaxFontSize, s.Get(FieldFontSize))
}

func TestStore_UpdateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		changes Changes
		field   Field
	}{
		{"empty text", Changes{Text: ptr("")}, FieldText},
		{"unknown color", Changes{FontColor: ptr("notacolor")}, FieldFontColor},
		{"filter injection in color", Changes{FontColor: ptr("white:text=pwned")}, FieldFontColor},
		{"unknown position", Changes{Position: ptr(Position("middle"))}, FieldPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			err := s.Update(tt.changes)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.NotEmpty(t, verr.Reason)
			assert.Equal(t, testDefaults, s.Snapshot())

			_, statErr := os.Stat(s.Path())
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestStore_ResetRestoresDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(Changes{
		Text:      ptr("Custom"),
		FontSize:  ptr(64),
		FontColor: ptr("#FF0000"),
		Position:  ptr(PositionCenter),
	}))

	require.NoError(t, s.Reset())

	assert.Equal(t, testDefaults, s.Snapshot())
	reloaded := NewStore(s.Path(), WatermarkSettings{}, discardLogger())
	assert.Equal(t, testDefaults, reloaded.Load())
}

func TestStore_GetFallsBackToFileForAbsentValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(path, WatermarkSettings{}, discardLogger())

	// Out-of-band edit after the store was created.
	content := `{"text":"edited","font_size":40,"font_color":"yellow","position":"center"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	assert.Equal(t, "edited", s.Get(FieldText))
	assert.Equal(t, 40, s.Get(FieldFontSize))
	assert.Equal(t, "yellow", s.Get(FieldFontColor))
	assert.Equal(t, PositionCenter, s.Get(FieldPosition))
	assert.Nil(t, s.Get(Field("unknown")))
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := newTestStore(t)
	snap := s.Snapshot()

	require.NoError(t, s.Update(Changes{Text: ptr("changed later")}))

	assert.Equal(t, "Your Text", snap.Text)
	assert.Equal(t, "changed later", s.Snapshot().Text)
}

func TestStore_ConcurrentUpdatesDoNotLoseFields(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(Changes{Text: ptr("concurrent")}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(Changes{FontSize: ptr(50)}))
		}()
	}
	wg.Wait()

	got := s.Load()
	assert.Equal(t, "concurrent", got.Text)
	assert.Equal(t, 50, got.FontSize)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may be left behind")
}
