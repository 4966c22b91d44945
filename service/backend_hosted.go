package service

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Pe4enIks/Real-ESRGAN/config"
	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

const hostedWeightsName = "model.ckpt"

// HostedBackend 托管模型后端：按仓库标识从模型仓库下载权重到本地目录，
// 之后行为与 native 后端完全一致（设备、精度、分块均支持）
type HostedBackend struct {
	*NativeBackend
}

func NewHostedBackend(cfg *config.ModelConfig, net Network) (*HostedBackend, error) {
	if cfg.Repository == "" {
		return nil, errors.Wrap(ErrConfiguration, "hosted backend requires a repository id")
	}

	localPath, err := downloadRepositoryWeights(cfg.HubEndpoint, cfg.Repository, cfg.WeightsDir)
	if err != nil {
		return nil, err
	}

	localCfg := *cfg
	localCfg.ModelPaths = []string{localPath}
	localCfg.InterpWeights = nil

	native, err := NewNativeBackend(&localCfg, net)
	if err != nil {
		return nil, err
	}
	return &HostedBackend{NativeBackend: native}, nil
}

// downloadRepositoryWeights 下载仓库权重文件，本地已有缓存则直接复用
func downloadRepositoryWeights(hubEndpoint, repository, weightsDir string) (string, error) {
	localDir := filepath.Join(weightsDir, strings.ReplaceAll(repository, "/", "_"))
	localPath := filepath.Join(localDir, hostedWeightsName)

	if _, err := os.Stat(localPath); err == nil {
		utils.Logger.Info("using cached repository weights",
			zap.String("repository", repository),
			zap.String("path", localPath))
		return localPath, nil
	}

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create weights dir %s", localDir)
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s",
		strings.TrimRight(hubEndpoint, "/"), repository, hostedWeightsName)
	utils.Logger.Info("downloading repository weights",
		zap.String("repository", repository),
		zap.String("url", url))

	resp, err := http.Get(url)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("URI: %s returned a %d response code", url, resp.StatusCode)
	}

	tmpPath := localPath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", tmpPath)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return "", errors.Wrapf(err, "failed to write %s", tmpPath)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return "", errors.Wrapf(err, "failed to finalize %s", localPath)
	}

	return localPath, nil
}
