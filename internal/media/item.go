package media

// Provider is a hosting site the library knows how to fetch from.
type Provider string

const (
	ProviderSoundgasm Provider = "soundgasm"
	ProviderKemono    Provider = "kemono"
	ProviderCoomer    Provider = "coomer"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderSoundgasm, ProviderKemono, ProviderCoomer:
		return true
	default:
		return false
	}
}

// Item is a catalogued media item. The set of implementations is closed:
// *SoundgasmTrack and *KemonoAttachment.
type Item interface {
	Provider() Provider
	Title() string

	item()
}

// SoundgasmTrack is an audio track hosted on soundgasm.
type SoundgasmTrack struct {
	ProfileSlug string
	TrackSlug   string
	TrackTitle  string
	Description string
	SoundID     string
	Extension   string
}

func (t *SoundgasmTrack) Provider() Provider { return ProviderSoundgasm }

func (t *SoundgasmTrack) Title() string {
	if t.TrackTitle != "" {
		return t.TrackTitle
	}

	return t.TrackSlug
}

func (*SoundgasmTrack) item() {}

// KemonoAttachment is a file attached to a kemono or coomer post. Path is the
// server-side data path ("/ab/cd/<hash>.<ext>").
type KemonoAttachment struct {
	Site      Provider
	Service   string
	CreatorID string
	PostID    string
	Path      string
	Name      string
}

func (a *KemonoAttachment) Provider() Provider { return a.Site }

func (a *KemonoAttachment) Title() string {
	if a.Name != "" {
		return a.Name
	}

	return a.Path
}

func (*KemonoAttachment) item() {}
