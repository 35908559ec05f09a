package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// resettableJar is a cookie jar that can be emptied while requests are in flight.
type resettableJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newResettableJar() *resettableJar {
	return &resettableJar{jar: newJar()}
}

func newJar() *cookiejar.Jar {
	// cookiejar.New only fails on a bad PublicSuffixList, and nil is valid.
	jar, _ := cookiejar.New(nil) //nolint:errcheck // Cannot fail with nil options
	return jar
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

func (j *resettableJar) reset() {
	j.mu.Lock()
	j.jar = newJar()
	j.mu.Unlock()
}
