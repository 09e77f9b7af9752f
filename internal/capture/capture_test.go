package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pbroadmap/internal/config"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFileSourceDeliversOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initial.json")
	writeFile(t, path, `{"features": []}`)

	src, err := NewFileSource(path, "session=1", false)
	require.NoError(t, err)
	defer src.Close()

	c, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"features": []}`, string(c.Body))
	assert.Equal(t, "session=1", c.CookieHeader)
	assert.Contains(t, c.URL, "initial.json")

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestFileSourceMissingFile(t *testing.T) {
	src, err := NewFileSource(filepath.Join(t.TempDir(), "nope.json"), "", false)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrExhausted))
}

func TestFileSourceWatchRedeliversOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initial.json")
	writeFile(t, path, `{"v": 1}`)

	src, err := NewFileSource(path, "", true)
	require.NoError(t, err)
	defer src.Close()

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"v": 1}`, string(first.Body))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte(`{"v": 2}`), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"v": 2}`, string(second.Body))
}

func TestFileSourceWatchHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "initial.json")
	writeFile(t, path, `{}`)

	src, err := NewFileSource(path, "", true)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewFileSourceRequiresPath(t *testing.T) {
	_, err := NewFileSource("  ", "", false)
	assert.Error(t, err)
}

func TestNewBrowserSourceRejectsBadRoadmapURL(t *testing.T) {
	_, err := NewBrowserSource(config.BrowserConfig{}, config.RoadmapConfig{URL: "https://acme.productboard.com/features"})
	assert.Error(t, err)
}

func TestCookieHeader(t *testing.T) {
	got := cookieHeader([]*network.Cookie{
		{Name: "session", Value: "abc"},
		nil,
		{Name: "", Value: "ignored"},
		{Name: "csrf", Value: "xyz"},
	})
	assert.Equal(t, "session=abc; csrf=xyz", got)
}

func TestHeaderValueIsCaseInsensitive(t *testing.T) {
	h := network.Headers{"Cookie": "a=1", "Accept": 3}
	assert.Equal(t, "a=1", headerValue(h, "cookie"))
	assert.Equal(t, "", headerValue(h, "accept"))
	assert.Equal(t, "", headerValue(h, "missing"))
}
