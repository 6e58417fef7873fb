package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tarungka/wirestream/internal/storage"
)

var (
	errNoInspector = errors.New("storage backend cannot list keys")
	errNoSuchKey   = errors.New("no window state for key")
)

// StorageRouter serves the window state held by store.
//
//	GET /keys   every key with stored state
//	GET /{key}  the key's elements and metadata
func StorageRouter(store storage.Storage) chi.Router {
	router := chi.NewRouter()
	router.Get("/keys", listKeys(store))
	router.Get("/{key}", getWindowState(store))
	return router
}

func listKeys(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inspector, ok := store.(storage.Inspector)
		if !ok {
			SendError(w, http.StatusNotImplemented, errNoInspector)
			return
		}
		keys, err := inspector.Keys(r.Context())
		if err != nil {
			SendError(w, http.StatusInternalServerError, err)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		SendResponse(w, http.StatusOK, keys, "")
	}
}

func getWindowState(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		elements, err := store.GetList(r.Context(), key)
		if err != nil {
			SendError(w, http.StatusInternalServerError, err)
			return
		}
		md, err := store.GetMetadata(r.Context(), key)
		if err != nil {
			SendError(w, http.StatusInternalServerError, err)
			return
		}
		if elements == nil && md == nil {
			SendError(w, http.StatusNotFound, errNoSuchKey)
			return
		}
		if elements == nil {
			elements = []any{}
		}
		SendResponse(w, http.StatusOK, WindowStateModel{Key: key, Elements: elements, Metadata: md}, "")
	}
}
