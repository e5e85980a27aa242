package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "variant": a.Variant}
	if a.Engine != nil {
		body["engine"] = a.Engine.State()
	}
	if a.Version != "" {
		body["version"] = a.Version
	}
	a.json(w, http.StatusOK, body)
}

func (a *App) ListVariants(w http.ResponseWriter, r *http.Request) {
	var names []string
	if a.Variants != nil {
		names = a.Variants()
	}
	a.json(w, http.StatusOK, map[string]any{"active": a.Variant, "variants": names})
}
