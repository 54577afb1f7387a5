package slidekit

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrSlideNotFound  = errors.New("slide not found")
	ErrDuplicateSlide = errors.New("duplicate slide name")
)

// SlideRegistry is the named collection of slide controllers built
// from configuration.
type SlideRegistry struct {
	mu     sync.RWMutex
	slides map[string]*Slide
	order  []string
}

func NewSlideRegistry(slides []*Slide) (*SlideRegistry, error) {
	sr := &SlideRegistry{
		slides: make(map[string]*Slide),
	}

	for _, slide := range slides {
		if len(slide.Name) == 0 {
			return nil, errors.New("slide with empty name in configuration")
		}
		_, duplicate := sr.slides[slide.Name]
		if duplicate {
			return nil, errors.Wrapf(ErrDuplicateSlide, "%s", slide.Name)
		}
		sr.slides[slide.Name] = slide
		sr.order = append(sr.order, slide.Name)
	}

	return sr, nil
}

// Get looks a slide up by name. The error for a miss lists every known
// slide, a typo in a config or request is much easier to spot that way.
func (sr *SlideRegistry) Get(name string) (*Slide, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	slide, found := sr.slides[name]
	if !found {
		return nil, errors.Wrapf(ErrSlideNotFound, "%s (known slides: %s)", name, strings.Join(sr.knownNames(), ", "))
	}
	return slide, nil
}

func (sr *SlideRegistry) knownNames() []string {
	names := make([]string, 0, len(sr.slides))
	for name := range sr.slides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the slides in configuration order.
func (sr *SlideRegistry) All() []*Slide {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	all := make([]*Slide, 0, len(sr.order))
	for _, name := range sr.order {
		all = append(all, sr.slides[name])
	}
	return all
}

func (sr *SlideRegistry) Len() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.slides)
}

// Close disposes every contained slide and clears the collection.
func (sr *SlideRegistry) Close() {
	sr.mu.Lock()
	slides := sr.slides
	sr.slides = make(map[string]*Slide)
	sr.order = nil
	sr.mu.Unlock()

	for _, slide := range slides {
		slide.Dispose()
	}
}
