package iomux

import "github.com/clustercore/batchcore/api"

// fakeReactor is a no-op api.Reactor for tests that drive registrants by
// calling HandleRead/HandleWrite directly rather than running a real
// epoll loop.
type fakeReactor struct {
	registered []api.Registrant
}

func (f *fakeReactor) Register(r api.Registrant) error { f.registered = append(f.registered, r); return nil }
func (f *fakeReactor) Unregister(r api.Registrant)      {}
func (f *fakeReactor) SignalWakeup()                    {}
func (f *fakeReactor) Run() error                        { return nil }
func (f *fakeReactor) Shutdown()                         {}
func (f *fakeReactor) Close() error                      { return nil }
