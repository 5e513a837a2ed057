package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Event actions a component event binding can carry.
const (
	ActionCallAPI    = "Call API"
	ActionSwitchPage = "Switch App Page"
	ActionOpenURL    = "Open Webpage"
	ActionRunScript  = "Run Script"
)

// Toast types.
const (
	ToastInfo    = "info"
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
)

// ErrUnknownAction is returned by Dispatch for an action it does not handle.
var ErrUnknownAction = errors.New("script: unknown event action")

// Toast is a transient notification shown by the host.
type Toast struct {
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Services is the capability set event handlers may use. Hosts construct
// one per session; nil fields disable the capability.
type Services struct {
	Navigate  func(to string) error
	ShowToast func(Toast)
	OpenURL   func(url string) error
	CallAPI   func(ctx context.Context, endpoint string) (any, error)
}

// ComponentEvent is one event binding on a block.
type ComponentEvent struct {
	Event       string `json:"event"`
	Action      string `json:"action"`
	APIEndpoint string `json:"api_endpoint,omitempty"`
	Page        string `json:"page,omitempty"`
	URL         string `json:"url,omitempty"`
	Script      string `json:"script,omitempty"`
}

// EventFromMap reads an event binding as stored in a block's events map.
func EventFromMap(name string, v any) (ComponentEvent, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return ComponentEvent{}, false
	}
	str := func(k string) string {
		switch v := m[k].(type) {
		case string:
			return v
		case *Func:
			return v.Source()
		}
		return ""
	}
	ev := ComponentEvent{
		Event:       name,
		Action:      str("action"),
		APIEndpoint: str("api_endpoint"),
		Page:        str("page"),
		URL:         str("url"),
		Script:      str("script"),
	}
	if e := str("event"); e != "" {
		ev.Event = e
	}
	return ev, ev.Action != ""
}

// Dispatch performs ev's action through svc.
func (svc Services) Dispatch(ctx context.Context, ev ComponentEvent, sc Context) error {
	switch ev.Action {
	case ActionCallAPI:
		if svc.CallAPI == nil {
			return nil
		}
		_, err := svc.CallAPI(ctx, ev.APIEndpoint)
		if err != nil && svc.ShowToast != nil {
			svc.ShowToast(Toast{Title: "Error", Message: err.Error(), Type: ToastError})
		}
		return err
	case ActionSwitchPage:
		if svc.Navigate == nil {
			return nil
		}
		return svc.Navigate(ev.Page)
	case ActionOpenURL:
		if svc.OpenURL == nil {
			return nil
		}
		return svc.OpenURL(ev.URL)
	case ActionRunScript:
		_, err := svc.RunScript(ev.Script, sc)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
}

// RunScript runs an event script body with the context entries in scope and
// svc bound as `studio`. The script's return value is exported. A body that
// is itself a function is called.
func (svc Services) RunScript(body string, sc Context) (result any, err error) {
	if IsFunctionSource(body) {
		body = "return (" + body + ")()"
	}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	studio := vm.NewObject()
	_ = studio.Set("navigate", func(to string) error {
		if svc.Navigate == nil {
			return nil
		}
		return svc.Navigate(to)
	})
	_ = studio.Set("showToast", func(m map[string]any) {
		if svc.ShowToast == nil {
			return
		}
		str := func(k string) string {
			s, _ := m[k].(string)
			return s
		}
		svc.ShowToast(Toast{Title: str("title"), Message: str("message"), Type: str("type")})
	})
	_ = studio.Set("openURL", func(url string) error {
		if svc.OpenURL == nil {
			return nil
		}
		return svc.OpenURL(url)
	})
	_ = vm.Set("studio", studio)
	for k, v := range sc {
		if identPattern.MatchString(k) && k != "studio" {
			_ = vm.Set(k, v)
		}
	}

	timer := time.AfterFunc(DefaultTimeout, func() { vm.Interrupt("script timed out") })
	defer timer.Stop()

	v, err := vm.RunString("(function() {\n" + body + "\n})()")
	if err != nil {
		return nil, fmt.Errorf("script: run: %w", err)
	}
	return export(v), nil
}
