package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tarungka/wirestream/internal/pipeline"
)

func PipelineRouter(task *pipeline.Task) chi.Router {
	router := chi.NewRouter()
	router.Get("/", describePipeline(task))
	return router
}

func describePipeline(task *pipeline.Task) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := PipelineModel{
			Name:      task.Name(),
			Stages:    []StageModel{},
			Operators: pipeline.Operators(),
		}
		for _, st := range task.Stages() {
			model.Stages = append(model.Stages, StageModel{Index: st.Index(), Name: st.Name()})
		}
		if err := task.Err(); err != nil {
			model.Error = err.Error()
		}
		SendResponse(w, http.StatusOK, model, "")
	}
}
