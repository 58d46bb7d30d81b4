package media

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const audioDir = "audio"

var (
	soundgasmSoundRE = regexp.MustCompile(`^/sounds/([A-Za-z0-9_-]+)\.([A-Za-z0-9]+)$`)
	soundgasmPageRE  = regexp.MustCompile(`^/u/([^/]+)/([^/]+)/?$`)
	kemonoDataRE     = regexp.MustCompile(`^(?:/data)?(/[0-9a-f]{2}/[0-9a-f]{2}/([0-9a-f]+)\.([A-Za-z0-9]+))$`)
	kemonoPostRE     = regexp.MustCompile(`^/([^/]+)/user/([^/]+)/post/([^/]+)/?$`)

	soundIDRE   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	extensionRE = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Resolver maps items to pointers rooted at DataDir and recognizes provider URLs.
type Resolver struct {
	DataDir           string
	SoundgasmMediaURL string
	KemonoURL         string
	CoomerURL         string
}

// Pointer builds the content pointer for an item.
func (r *Resolver) Pointer(it Item) (Pointer, error) {
	switch v := it.(type) {
	case *SoundgasmTrack:
		if !soundIDRE.MatchString(v.SoundID) || !extensionRE.MatchString(v.Extension) {
			return Pointer{}, fmt.Errorf("soundgasm track %s/%s: %w", v.ProfileSlug, v.TrackSlug, ErrUnresolved)
		}

		return r.newPointer(
			"soundgasm:"+v.SoundID,
			strings.TrimRight(r.SoundgasmMediaURL, "/")+"/sounds/"+v.SoundID+"."+v.Extension,
			ProviderSoundgasm,
			v.SoundID+"."+v.Extension,
		)
	case *KemonoAttachment:
		m := kemonoDataRE.FindStringSubmatch(v.Path)
		if m == nil {
			return Pointer{}, fmt.Errorf("%s post %s: %w", v.Site, v.PostID, ErrUnresolved)
		}

		base, err := r.siteURL(v.Site)
		if err != nil {
			return Pointer{}, err
		}

		hash, ext := m[2], m[3]

		return r.newPointer(string(v.Site)+":"+hash, base+"/data"+m[1], v.Site, hash+"."+ext)
	default:
		return Pointer{}, fmt.Errorf("unsupported item type %T", it)
	}
}

// Recognize parses a provider URL into an item. Direct media URLs produce items that
// resolve to a pointer; page URLs only carry the identifying slugs.
func (r *Resolver) Recognize(rawURL string) (Item, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%q: %w", rawURL, ErrUnrecognized)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	cleanPath := path.Clean(u.Path)

	switch {
	case host == "media.soundgasm.net":
		if m := soundgasmSoundRE.FindStringSubmatch(cleanPath); m != nil {
			return &SoundgasmTrack{SoundID: m[1], Extension: m[2]}, nil
		}
	case host == "soundgasm.net":
		if m := soundgasmPageRE.FindStringSubmatch(u.Path); m != nil {
			return &SoundgasmTrack{ProfileSlug: m[1], TrackSlug: m[2]}, nil
		}
	default:
		site, ok := siteFromHost(host)
		if !ok {
			break
		}

		if m := kemonoDataRE.FindStringSubmatch(cleanPath); m != nil {
			return &KemonoAttachment{Site: site, Path: m[1], Name: u.Query().Get("f")}, nil
		}

		if m := kemonoPostRE.FindStringSubmatch(u.Path); m != nil {
			return &KemonoAttachment{Site: site, Service: m[1], CreatorID: m[2], PostID: m[3]}, nil
		}
	}

	return nil, fmt.Errorf("%q: %w", rawURL, ErrUnrecognized)
}

// newPointer places name under the provider's audio directory. The target must stay
// inside DataDir whatever the item carried.
func (r *Resolver) newPointer(id, downloadURL string, provider Provider, name string) (Pointer, error) {
	dir := filepath.Join(r.DataDir, audioDir, string(provider))
	target := filepath.Join(dir, name)

	if rel, err := filepath.Rel(dir, target); err != nil || rel != filepath.Base(target) {
		return Pointer{}, fmt.Errorf("pointer %s: target %q escapes %s: %w", id, target, dir, ErrUnresolved)
	}

	return NewPointer(id, downloadURL, target)
}

func (r *Resolver) siteURL(site Provider) (string, error) {
	switch site {
	case ProviderKemono:
		return strings.TrimRight(r.KemonoURL, "/"), nil
	case ProviderCoomer:
		return strings.TrimRight(r.CoomerURL, "/"), nil
	default:
		return "", fmt.Errorf("provider %q does not host attachments", site)
	}
}

// siteFromHost accepts the bare domains and their numbered file servers (n1.kemono.su).
func siteFromHost(host string) (Provider, bool) {
	for _, p := range []Provider{ProviderKemono, ProviderCoomer} {
		domain := string(p) + ".su"
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return p, true
		}
	}

	return "", false
}
