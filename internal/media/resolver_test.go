package media

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return &Resolver{
		DataDir:           "/var/lib/sgdl",
		SoundgasmMediaURL: "https://media.soundgasm.net/",
		KemonoURL:         "https://kemono.su",
		CoomerURL:         "https://coomer.su",
	}
}

func TestRecognize(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Item
	}{
		{
			name: "soundgasm media url",
			url:  "https://media.soundgasm.net/sounds/7358137704b4386f24c1b5dad8b44fbdb0cf7731.m4a",
			want: &SoundgasmTrack{SoundID: "7358137704b4386f24c1b5dad8b44fbdb0cf7731", Extension: "m4a"},
		},
		{
			name: "soundgasm track page",
			url:  "https://www.soundgasm.net/u/sgdl-test/shopping-mall-half-open-Netherlands-207-AM-161001_0998",
			want: &SoundgasmTrack{ProfileSlug: "sgdl-test", TrackSlug: "shopping-mall-half-open-Netherlands-207-AM-161001_0998"},
		},
		{
			name: "kemono data url with file name",
			url:  "https://n2.kemono.su/data/ab/cd/abcdef0123.mp3?f=episode.mp3",
			want: &KemonoAttachment{Site: ProviderKemono, Path: "/ab/cd/abcdef0123.mp3", Name: "episode.mp3"},
		},
		{
			name: "coomer post page",
			url:  "https://coomer.su/onlyfans/user/someone/post/12345",
			want: &KemonoAttachment{Site: ProviderCoomer, Service: "onlyfans", CreatorID: "someone", PostID: "12345"},
		},
	}

	r := testResolver()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Recognize(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecognize_Unrecognized(t *testing.T) {
	r := testResolver()

	for _, raw := range []string{
		"invalid_url",
		"https://soundgasm.com/u/sgdl-test/track",
		"https://dfs.soundgasm.net/u/sgdl-test/track",
		"https://media.soundgasm.net/sounds/../../etc/passwd",
		"https://kemono.party/data/ab/cd/ff.mp3",
	} {
		_, err := r.Recognize(raw)
		assert.True(t, errors.Is(err, ErrUnrecognized), raw)
	}
}

func TestResolverPointer(t *testing.T) {
	r := testResolver()

	p, err := r.Pointer(&SoundgasmTrack{SoundID: "abc123", Extension: "m4a"})
	require.NoError(t, err)
	assert.Equal(t, "soundgasm:abc123", p.ID)
	assert.Equal(t, "https://media.soundgasm.net/sounds/abc123.m4a", p.DownloadURL)
	assert.Equal(t, filepath.Join("/var/lib/sgdl", "audio", "soundgasm", "abc123.m4a"), p.TargetPath)

	p, err = r.Pointer(&KemonoAttachment{Site: ProviderCoomer, Path: "/ab/cd/ffee.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "coomer:ffee", p.ID)
	assert.Equal(t, "https://coomer.su/data/ab/cd/ffee.mp3", p.DownloadURL)
	assert.Equal(t, filepath.Join("/var/lib/sgdl", "audio", "coomer", "ffee.mp3"), p.TargetPath)
}

func TestResolverPointer_StableIdentity(t *testing.T) {
	r := testResolver()

	a, err := r.Recognize("https://media.soundgasm.net/sounds/abc.m4a")
	require.NoError(t, err)
	b, err := r.Recognize("https://media.soundgasm.net/sounds/abc.m4a")
	require.NoError(t, err)

	pa, err := r.Pointer(a)
	require.NoError(t, err)
	pb, err := r.Pointer(b)
	require.NoError(t, err)

	assert.Equal(t, pa, pb)
}

func TestResolverPointer_Unresolved(t *testing.T) {
	tests := []struct {
		name string
		item Item
	}{
		{name: "soundgasm page without sound id", item: &SoundgasmTrack{ProfileSlug: "p", TrackSlug: "t"}},
		{name: "kemono post without attachment", item: &KemonoAttachment{Site: ProviderKemono, PostID: "1"}},
		{name: "sound id with parent dirs", item: &SoundgasmTrack{SoundID: "../../../../etc/cron.d/x", Extension: "sh"}},
		{name: "sound id with separator", item: &SoundgasmTrack{SoundID: "a/b", Extension: "m4a"}},
		{name: "dot sound id", item: &SoundgasmTrack{SoundID: "..", Extension: "m4a"}},
		{name: "extension with parent dirs", item: &SoundgasmTrack{SoundID: "abc", Extension: "m4a/../../../../../tmp/x"}},
		{name: "extension with dot", item: &SoundgasmTrack{SoundID: "abc", Extension: "tar.gz"}},
		{name: "kemono path with parent dirs", item: &KemonoAttachment{Site: ProviderKemono, Path: "/ab/cd/../../../etc/ff.mp3"}},
	}

	r := testResolver()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.Pointer(tt.item)
			require.ErrorIs(t, err, ErrUnresolved)
			assert.Empty(t, p.TargetPath)
		})
	}
}

func TestNewPointer_Validation(t *testing.T) {
	_, err := NewPointer("", "https://example.com/a", "/tmp/a")
	assert.Error(t, err)

	_, err = NewPointer("x", "ftp://example.com/a", "/tmp/a")
	assert.Error(t, err)

	_, err = NewPointer("x", "https://example.com/a", "")
	assert.Error(t, err)

	p, err := NewPointer("x", "http://127.0.0.1:8080/a", "/tmp/a")
	require.NoError(t, err)
	assert.Equal(t, "x", p.String())
}
