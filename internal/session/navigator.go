package session

// Navigator performs the hard redirect to the login surface after a fatal
// authentication failure. Implementations must discard any state derived
// from the old session.
type Navigator interface {
	HardRedirect(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// HardRedirect implements Navigator.
func (f NavigatorFunc) HardRedirect(route string) { f(route) }

type nopNavigator struct{}

func (nopNavigator) HardRedirect(string) {}
