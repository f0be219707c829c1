package routing

import (
	"testing"
)

func FuzzResolve(f *testing.F) {
	tbl, err := NewBuilder().
		Add("/tasks", taskSvc, "GET", "POST").
		Add("/tasks/{id}", taskSvc, "GET", "PUT", "PATCH", "DELETE").
		Add("/tasks/{id}/status", taskSvc, "PATCH").
		Add("/users", userSvc, "GET", "POST").
		Build()
	if err != nil {
		f.Fatal(err)
	}

	f.Add("GET", "/tasks/1")
	f.Add("PATCH", "/tasks/1/status")
	f.Add("GET", "//")
	f.Add("", "")
	f.Add("GET", "/tasks/../users")
	f.Add("GET", "/tasks/1%2Fstatus")
	f.Add("GET", "/tasks/%zz")

	f.Fuzz(func(t *testing.T, method, path string) {
		m, ok := tbl.Resolve(method, path)
		if !ok {
			return
		}
		if !m.Route.Allows(method) {
			t.Errorf("%s %s resolved to %s which does not allow the method", method, path, m.Route.Pattern)
		}
		for name, v := range m.Params {
			if v == "" {
				t.Errorf("param %s captured %q", name, v)
			}
		}
	})
}
