package source

import "net/http"

// LinkSource serves a single static remote resource by redirect. There is
// nothing to select, gate, or cancel.
type LinkSource struct {
	link string
}

// NewLinkSource constructs a redirect source for the configured URL.
func NewLinkSource(link string) *LinkSource {
	return &LinkSource{link: link}
}

func (s *LinkSource) Files() []FileEntry {
	return []FileEntry{{Index: 0, Name: s.link}}
}

func (s *LinkSource) FileIndex() int { return 0 }

// SetFileIndex always reports no change: a single file leaves nothing to
// select.
func (s *LinkSource) SetFileIndex(int) (bool, error) {
	return false, nil
}

func (s *LinkSource) Start() error { return nil }

func (s *LinkSource) CancelPendingRequests() {}

func (s *LinkSource) Cleanup() error { return nil }

func (s *LinkSource) ServeVideo(w http.ResponseWriter, r *http.Request) error {
	http.Redirect(w, r, s.link, http.StatusSeeOther)
	return nil
}
