// Package generation talks to the external image-edit service. It encodes
// the working image and mask produced by the raster package into the
// multipart wire format, attaches the user's prompt, and decodes the
// base64 response back into a working buffer.
package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"retouch-complete/raster"
)

// Reason classifies a failed edit request.
type Reason string

const (
	// ReasonTransport covers dial, timeout, and other network failures.
	ReasonTransport Reason = "transport"
	// ReasonContent covers failures the service itself reported, such as a
	// policy rejection or a non-2xx status.
	ReasonContent Reason = "content"
	// ReasonDecode covers responses that arrived but could not be decoded
	// into an image.
	ReasonDecode Reason = "decode"
)

// Error is a failed edit request. Callers inspect Reason to distinguish
// retry-worthy transport failures from service rejections.
type Error struct {
	Reason  Reason
	Message string
	Status  int // HTTP status when Reason is ReasonContent, 0 otherwise.
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generation failed (%s, status %d): %s", e.Reason, e.Status, e.Message)
	}
	return fmt.Sprintf("generation failed (%s): %s", e.Reason, e.Message)
}

// Client issues edit requests against the external service. The zero value
// is not usable; construct with NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient returns a client for the service at baseURL authenticated by
// apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type editResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error json.RawMessage `json:"error"`
}

// RequestEdit sends the image, its mask, and the prompt to the service and
// returns the regenerated image. The transparent region of the mask marks
// the pixels the service may repaint. There is no automatic retry; the
// caller decides whether to resubmit.
func (c *Client) RequestEdit(ctx context.Context, img, mask image.Image, prompt string) (*image.NRGBA, error) {
	body, contentType, err := encodeForm(img, mask, prompt)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edit", body)
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logrus.WithError(err).Warn("Edit request did not reach the generation service")
		return nil, &Error{Reason: ReasonTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, Message: err.Error()}
	}

	var decoded editResponse
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &Error{Reason: ReasonContent, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, &Error{Reason: ReasonDecode, Message: "response is not valid JSON"}
	}
	if resp.StatusCode != http.StatusOK || len(decoded.Error) > 0 {
		return nil, &Error{Reason: ReasonContent, Status: resp.StatusCode, Message: serviceMessage(decoded.Error)}
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, &Error{Reason: ReasonDecode, Message: "response contains no image data"}
	}

	imageBytes, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, &Error{Reason: ReasonDecode, Message: "image payload is not valid base64"}
	}
	result, err := raster.Rasterize(imageBytes)
	if err != nil {
		return nil, &Error{Reason: ReasonDecode, Message: "image payload is not a decodable image"}
	}
	return result, nil
}

// encodeForm builds the multipart body the service expects: PNG image, PNG
// mask, prompt, and response_format=b64_json.
func encodeForm(img, mask image.Image, prompt string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, part := range []struct {
		field string
		image image.Image
	}{
		{"image", img},
		{"mask", mask},
	} {
		encoded, err := raster.Encode(part.image, "image/png")
		if err != nil {
			return nil, "", err
		}
		fw, err := w.CreateFormFile(part.field, part.field+".png")
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(encoded); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("prompt", prompt); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("response_format", "b64_json"); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// serviceMessage extracts a human-readable message from the service error
// body, which is either a bare string or an object with a message field.
func serviceMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "service rejected the request"
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return asString
	}
	var asObject struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Message != "" {
		return asObject.Message
	}
	return "service rejected the request"
}
