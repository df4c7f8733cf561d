package flow

import "sync"

// fakeWindow is a scripted Prober. Tests flip visibility and text in the
// maps directly or from the onClick hook.
type fakeWindow struct {
	mu sync.Mutex

	loc     string
	visible map[Marker]bool
	texts   map[Marker]string

	findErr  error
	clickErr error
	locErr   error
	refErr   error

	clicks    []Marker
	fills     map[Marker]string
	backs     int
	refreshes int
	closed    bool

	onClick func(m Marker)
}

func newFakeWindow(loc string) *fakeWindow {
	return &fakeWindow{
		loc:     loc,
		visible: make(map[Marker]bool),
		texts:   make(map[Marker]string),
		fills:   make(map[Marker]string),
	}
}

func (f *fakeWindow) show(m Marker)     { f.mu.Lock(); f.visible[m] = true; f.mu.Unlock() }
func (f *fakeWindow) hide(m Marker)     { f.mu.Lock(); f.visible[m] = false; f.mu.Unlock() }
func (f *fakeWindow) setLoc(loc string) { f.mu.Lock(); f.loc = loc; f.mu.Unlock() }

func (f *fakeWindow) Location() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locErr != nil {
		return "", f.locErr
	}
	return f.loc, nil
}

func (f *fakeWindow) Find(m Marker) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return false, f.findErr
	}
	return f.visible[m], nil
}

func (f *fakeWindow) FindAny(ms ...Marker) (Marker, error) {
	for _, m := range ms {
		found, err := f.Find(m)
		if err != nil {
			return MarkerNone, err
		}
		if found {
			return m, nil
		}
	}
	return MarkerNone, nil
}

func (f *fakeWindow) Click(m Marker) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, m)
	err := f.clickErr
	visible := f.visible[m]
	hook := f.onClick
	f.mu.Unlock()
	if err != nil {
		return err
	}
	// Same contract as the real window: clicking an element that is not
	// there fails instead of silently succeeding.
	if !visible {
		return stepTimeoutf("%s not present in window", m)
	}
	if hook != nil {
		hook(m)
	}
	return nil
}

func (f *fakeWindow) Fill(m Marker, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[m] = value
	return nil
}

func (f *fakeWindow) Text(m Marker) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[m], nil
}

func (f *fakeWindow) NavigateBack() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	return nil
}

func (f *fakeWindow) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refErr
}

func (f *fakeWindow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWindow) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeBrowser hands out pre-registered windows by name.
type fakeBrowser struct {
	mu      sync.Mutex
	windows map[string]*fakeWindow
	opened  []string
	urls    map[string]string
	pids    []int
	severed bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		windows: make(map[string]*fakeWindow),
		urls:    make(map[string]string),
	}
}

func (b *fakeBrowser) register(name string, w *fakeWindow) { b.windows[name] = w }

func (b *fakeBrowser) OpenWindow(name, url string) (Prober, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, name)
	b.urls[name] = url
	w, ok := b.windows[name]
	if !ok {
		w = newFakeWindow(url)
		b.windows[name] = w
	}
	return w, nil
}

func (b *fakeBrowser) PIDs() []int { return b.pids }

func (b *fakeBrowser) Sever() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.severed = true
}

// fakeKiller records which pids were reaped.
type fakeKiller struct {
	mu   sync.Mutex
	pids []int
}

func (k *fakeKiller) KillTree(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pids = append(k.pids, pid)
	return nil
}

func (k *fakeKiller) killed() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]int(nil), k.pids...)
}
