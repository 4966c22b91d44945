package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
)

const (
	remoteInputName  = "lr"
	remoteOutputName = "hr"
)

// RemoteBackend 远程推理服务后端：每次推理发送一个请求，
// 输入张量名 lr，输出张量名 hr，精度标记与配置保持一致。
// 不支持分块推理。
type RemoteBackend struct {
	endpoint     string
	modelName    string
	modelVersion string
	half         bool
	client       *http.Client
}

type inferRequestTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type inferRequestedOutput struct {
	Name string `json:"name"`
}

type inferRequest struct {
	Inputs  []inferRequestTensor   `json:"inputs"`
	Outputs []inferRequestedOutput `json:"outputs"`
}

type inferResponseTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type inferResponse struct {
	Outputs []inferResponseTensor `json:"outputs"`
}

func NewRemoteBackend(cfg *config.ModelConfig) (*RemoteBackend, error) {
	if cfg.Endpoint == "" || cfg.ModelName == "" {
		return nil, errors.Wrap(ErrConfiguration, "remote backend requires an endpoint and a model name")
	}

	return &RemoteBackend{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		modelName:    cfg.ModelName,
		modelVersion: cfg.ModelVer,
		half:         cfg.Precision == "half",
		client:       &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (b *RemoteBackend) Preprocess(img gocv.Mat) (*Tensor, error) {
	return MatToTensor(img)
}

func (b *RemoteBackend) Infer(ctx context.Context, t *Tensor) (*Tensor, error) {
	datatype := "FP32"
	data := t.Data
	if b.half {
		// 先过一遍 binary16 量化，保证精度标记与载荷一致
		datatype = "FP16"
		data = make([]float32, len(t.Data))
		copy(data, t.Data)
		quantizeHalf(data)
	}

	payload := inferRequest{
		Inputs: []inferRequestTensor{{
			Name:     remoteInputName,
			Shape:    t.Shape[:],
			Datatype: datatype,
			Data:     data,
		}},
		Outputs: []inferRequestedOutput{{Name: remoteOutputName}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode inference request")
	}

	url := fmt.Sprintf("%s/v2/models/%s", b.endpoint, b.modelName)
	if b.modelVersion != "" {
		url = fmt.Sprintf("%s/versions/%s", url, b.modelVersion)
	}
	url += "/infer"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build inference request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "inference request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("inference server returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode inference response")
	}

	for _, out := range parsed.Outputs {
		if out.Name != remoteOutputName {
			continue
		}
		if len(out.Shape) != 4 {
			return nil, errors.Errorf("expected 4-D output shape, got %v", out.Shape)
		}
		return &Tensor{
			Data:  out.Data,
			Shape: [4]int64{out.Shape[0], out.Shape[1], out.Shape[2], out.Shape[3]},
		}, nil
	}
	return nil, errors.Errorf("output tensor %q missing from response", remoteOutputName)
}

func (b *RemoteBackend) SupportsTiling() bool { return false }

func (b *RemoteBackend) Close() error { return nil }
