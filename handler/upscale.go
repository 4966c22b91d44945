package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
	"github.com/Pe4enIks/Real-ESRGAN/model"
	"github.com/Pe4enIks/Real-ESRGAN/service"
	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

type UpscaleHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	enhancer     *service.Enhancer
}

func NewUpscaleHandler(cfg *config.Config, redis *service.RedisService, enhancer *service.Enhancer) *UpscaleHandler {
	return &UpscaleHandler{
		cfg:          cfg,
		redisService: redis,
		enhancer:     enhancer,
	}
}

// Upscale 处理图片上传并超分
func (h *UpscaleHandler) Upscale(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG",
		})
		return
	}

	// 保存上传文件
	ext := filepath.Ext(file.Filename)
	filename := fmt.Sprintf("%d%s", utils.GenerateID(), ext)
	savePath := filepath.Join(h.cfg.Upload.UploadDir, filename)

	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存文件失败",
			Error:   err.Error(),
		})
		return
	}

	if h.cfg.Upload.CleanupTemp {
		defer func() {
			if err := os.Remove(savePath); err != nil {
				utils.Logger.Warn("failed to delete temp file",
					zap.String("file", savePath),
					zap.Error(err))
			}
		}()
	}

	// 计算MD5
	md5, err := utils.FileMD5(savePath)
	if err != nil {
		utils.Logger.Error("failed to calculate md5", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "计算文件哈希失败",
			Error:   err.Error(),
		})
		return
	}

	alphaMode := c.DefaultPostForm("alpha_mode", service.AlphaNetwork)
	if alphaMode != service.AlphaNetwork && alphaMode != service.AlphaResize {
		alphaMode = service.AlphaNetwork
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.String("alpha_mode", alphaMode))

	// 检查缓存（同一图片不同处理参数分开缓存）
	ctx := context.Background()
	cacheKey := md5 + ":" + utils.ParamsDigest(
		h.cfg.Model.Backend,
		strconv.Itoa(h.cfg.Model.Scale),
		strconv.FormatFloat(h.cfg.Model.Outscale, 'f', -1, 64),
		alphaMode,
	)

	cached, err := h.redisService.GetUpscaleResult(ctx, cacheKey)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", cacheKey))
		c.JSON(http.StatusOK, model.UpscaleResponse{
			Success: true,
			Message: "处理成功（来自缓存）",
			Data:    cached,
		})
		return
	}

	// 解码并超分
	img := gocv.IMRead(savePath, gocv.IMReadUnchanged)
	if img.Empty() {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "图片解码失败",
		})
		return
	}
	defer img.Close()

	startTime := time.Now()
	output, colorMode, err := h.enhancer.Enhance(ctx, img, alphaMode)
	if err != nil {
		utils.Logger.Error("failed to enhance image", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "图片处理失败",
			Error:   err.Error(),
		})
		return
	}
	defer output.Close()

	// 16位结果与带alpha的结果固定存PNG
	outExt := strings.ToLower(ext)
	if output.Type() == gocv.MatTypeCV16UC1 || output.Type() == gocv.MatTypeCV16UC3 ||
		output.Type() == gocv.MatTypeCV16UC4 || colorMode == service.ModeRGBA {
		outExt = ".png"
	}
	outputPath := filepath.Join(h.cfg.Upload.OutputDir,
		fmt.Sprintf("%s_x%d%s", md5, h.enhancer.Scale(), outExt))
	if ok := gocv.IMWrite(outputPath, output); !ok {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存结果失败",
		})
		return
	}

	result := &model.UpscaleResult{
		MD5:          md5,
		SourceWidth:  img.Cols(),
		SourceHeight: img.Rows(),
		Width:        output.Cols(),
		Height:       output.Rows(),
		Scale:        h.enhancer.Scale(),
		Outscale:     h.cfg.Model.Outscale,
		ColorMode:    colorMode,
		AlphaMode:    alphaMode,
		OutputPath:   outputPath,
		ElapsedMs:    time.Since(startTime).Milliseconds(),
		Timestamp:    time.Now().Unix(),
	}

	if err := h.redisService.SetUpscaleResult(ctx, cacheKey, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
	// 按裸MD5再存一份最近结果，供查询接口使用
	if err := h.redisService.SetUpscaleResult(ctx, md5, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	utils.Logger.Info("image enhanced",
		zap.String("md5", md5),
		zap.String("color_mode", colorMode),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Duration("duration", time.Since(startTime)))

	c.JSON(http.StatusOK, model.UpscaleResponse{
		Success: true,
		Message: "处理成功",
		Data:    result,
	})
}

// GetByMD5 根据MD5查询已处理的结果记录
func (h *UpscaleHandler) GetByMD5(c *gin.Context) {
	key := c.Param("md5")
	if key == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "MD5参数缺失",
		})
		return
	}

	ctx := context.Background()
	result, err := h.redisService.GetUpscaleResult(ctx, key)
	if err != nil {
		utils.Logger.Error("failed to get upscale result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该图片的处理记录",
		})
		return
	}

	c.JSON(http.StatusOK, model.UpscaleResponse{
		Success: true,
		Message: "查询成功",
		Data:    result,
	})
}

func (h *UpscaleHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
