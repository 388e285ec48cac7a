package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"backend-kartaview/internal/sequence"
)

const uploadSource = "backend-kartaview 0.1.0"

// KartaView talks to the KartaView API 1.0 upload endpoints. Sequences are
// created, filled with photos one by one and finally marked finished.
type KartaView struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewKartaView(baseURL, accessToken string) *KartaView {
	return &KartaView{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// apiResponse covers the envelope of every API 1.0 reply. Ids arrive as
// numbers or strings depending on the endpoint, json.Number takes both.
type apiResponse struct {
	Status struct {
		APICode    json.Number `json:"apiCode"`
		APIMessage string      `json:"apiMessage"`
		HTTPCode   json.Number `json:"httpCode"`
	} `json:"status"`
	OSV struct {
		Sequence struct {
			ID json.Number `json:"id"`
		} `json:"sequence"`
		Photo struct {
			ID json.Number `json:"id"`
		} `json:"photo"`
	} `json:"osv"`
}

func (k *KartaView) CreateSequence(ctx context.Context, deviceName string) (string, error) {
	form := url.Values{}
	form.Set("access_token", k.token)
	form.Set("uploadSource", uploadSource)
	if deviceName != "" {
		form.Set("deviceName", deviceName)
	}

	res, err := k.postForm(ctx, "/1.0/sequence/", form)
	if err != nil {
		return "", err
	}
	id := res.OSV.Sequence.ID.String()
	if id == "" {
		return "", fmt.Errorf("remote: no sequence id in response")
	}
	return id, nil
}

func (k *KartaView) UploadImage(ctx context.Context, remoteSeqID string, img sequence.Image) (string, error) {
	if img.Lat == nil || img.Lng == nil {
		return "", fmt.Errorf("remote: image %s has no position", img.Fingerprint)
	}
	photo, err := os.ReadFile(img.Path)
	if err != nil {
		return "", fmt.Errorf("remote: read image: %w", err)
	}

	coordinate := strconv.FormatFloat(*img.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(*img.Lng, 'f', -1, 64)
	shotDate := img.CapturedAt.UTC().Format("2006-01-02 15:04:05")

	fields := [][2]string{
		{"access_token", k.token},
		{"sequenceId", remoteSeqID},
		{"sequenceIndex", strconv.Itoa(img.SeqIndex)},
		{"coordinate", coordinate},
		{"shotDate", shotDate},
	}
	if img.Heading != nil {
		fields = append(fields, [2]string{"heading", strconv.FormatFloat(*img.Heading, 'f', -1, 64)})
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("remote: build form: %w", err)
		}
	}

	part, err := w.CreatePart(photoPartHeader(photoName(coordinate, shotDate, img.Path)))
	if err != nil {
		return "", fmt.Errorf("remote: build form: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return "", fmt.Errorf("remote: build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("remote: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/1.0/photo/", &buf)
	if err != nil {
		return "", fmt.Errorf("remote: new request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := k.do(req)
	if err != nil {
		return "", err
	}
	id := res.OSV.Photo.ID.String()
	if id == "" {
		return "", fmt.Errorf("remote: no photo id in response")
	}
	return id, nil
}

func (k *KartaView) CloseSequence(ctx context.Context, remoteSeqID string) error {
	form := url.Values{}
	form.Set("access_token", k.token)
	form.Set("sequenceId", remoteSeqID)

	_, err := k.postForm(ctx, "/1.0/sequence/finished-uploading/", form)
	return err
}

// photoName derives the upload filename the way the desktop tools do, an md5
// over coordinate and shot date plus the original extension.
func photoName(coordinate, shotDate, imagePath string) string {
	sum := md5.Sum([]byte(coordinate + shotDate))
	ext := filepath.Ext(imagePath)
	if ext == "" {
		ext = ".jpg"
	}
	return hex.EncodeToString(sum[:]) + ext
}

func photoPartHeader(filename string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename="%s"`, filename))
	h.Set("Content-Type", "image/jpeg")
	return h
}

func (k *KartaView) postForm(ctx context.Context, path string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("remote: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return k.do(req)
}

func (k *KartaView) do(req *http.Request) (*apiResponse, error) {
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}

	var parsed apiResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("remote: parse response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		msg := parsed.Status.APIMessage
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("remote: %s: %s", resp.Status, msg)
	}
	return &parsed, nil
}
