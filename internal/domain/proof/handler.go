package proof

import (
	"net/http"

	"github.com/tokenbridge/settlement-api/internal/middleware"
	"github.com/tokenbridge/settlement-api/internal/pkg/errorhandler"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Upload handles POST /proofs
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// Multipart framing needs some room on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.MaxSize()+1<<20)

	if err := r.ParseMultipartForm(h.svc.MaxSize()); err != nil {
		response.BadRequest(w, "File too large or invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "No file provided")
		return
	}
	defer file.Close()

	up, err := h.svc.Upload(r.Context(), middleware.GetActor(r.Context()), file)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.Created(w, up)
}
