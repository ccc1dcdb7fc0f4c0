package jobs

import (
	"errors"

	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/ditto-assistant/txt2img/types/ty"
)

const successMessage = "Image generated successfully"

// Output converts a job result into the wire shape posted to the platform.
func Output(res ty.Result[rp.Success]) rp.JobOutput {
	if res.Err != nil {
		out := rp.JobOutput{
			Status:  rp.StatusError,
			Message: res.Err.Error(),
		}
		var je *Error
		if errors.As(res.Err, &je) {
			out.ErrorType = string(je.Kind)
			out.RefreshWorker = je.RefreshWorker()
		}
		return out
	}
	s := res.Ok
	return rp.JobOutput{
		Status:      rp.StatusSuccess,
		Message:     successMessage,
		ImageURL:    s.ImageURL,
		Image:       s.Image,
		DataURL:     s.DataURL,
		ContentType: s.ContentType,
		Cost:        &s.Cost,
		Seed:        &s.Seed,
	}
}
