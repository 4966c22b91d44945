package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/config"
	"github.com/Pe4enIks/Real-ESRGAN/service"
	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

var (
	configPath string
	inputPath  string
	outputDir  string
	suffix     string
	alphaMode  string

	backendKind string
	tileSize    int
	outscale    float64
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

func main() {
	root := &cobra.Command{
		Use:   "upscale",
		Short: "Batch super-resolution over a file or directory of images",
		RunE:  run,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	root.Flags().StringVarP(&inputPath, "input", "i", "", "input image or directory")
	root.Flags().StringVarP(&outputDir, "output", "o", "./results", "output directory")
	root.Flags().StringVarP(&suffix, "suffix", "s", "out", "suffix appended to output file names")
	root.Flags().StringVar(&alphaMode, "alpha-mode", service.AlphaNetwork, "alpha upscaling mode: network or resize")
	root.Flags().StringVar(&backendKind, "backend", "", "override configured backend kind")
	root.Flags().IntVar(&tileSize, "tile", -1, "override tile size, 0 disables tiling")
	root.Flags().Float64Var(&outscale, "outscale", -1, "override final output scale factor")
	_ = root.MarkFlagRequired("input")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.New()
	}
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.Sync()

	// 命令行覆盖配置
	if backendKind != "" {
		cfg.Model.Backend = backendKind
	}
	if tileSize >= 0 {
		cfg.Model.TileSize = tileSize
	}
	if outscale >= 0 {
		cfg.Model.Outscale = outscale
	}

	paths, err := collectPaths(inputPath)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found under %s", inputPath)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	enhancer, err := service.NewEnhancer(&cfg.Model, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize enhancer: %w", err)
	}
	defer enhancer.Close()

	utils.Logger.Info("starting batch upscale",
		zap.Int("images", len(paths)),
		zap.String("backend", cfg.Model.Backend),
		zap.Int("scale", cfg.Model.Scale),
		zap.Int("tile_size", cfg.Model.TileSize))

	// 读盘 -> 推理 -> 写盘，三段通过有界通道衔接，
	// 推理线程是串行点，读写与推理时延互相掩盖
	reader := service.NewPrefetchReader(paths, cfg.Pipeline.QueueSize)
	reader.Start()
	writer := service.NewIOWriter(cfg.Pipeline.QueueSize, cfg.Pipeline.Writers)

	start := time.Now()
	processed, failed := processBatch(context.Background(), reader, writer, enhancer, alphaMode)
	writer.Close()

	utils.Logger.Info("batch finished",
		zap.Int("processed", processed),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// processBatch 消费预取队列直到关闭，成功的结果交给写盘队列。
// 解码失败的空 Mat 也要释放句柄后再跳过
func processBatch(ctx context.Context, reader *service.PrefetchReader, writer *service.IOWriter, enhancer *service.Enhancer, alphaMode string) (processed, failed int) {
	for {
		item, ok := reader.Next()
		if !ok {
			return processed, failed
		}
		if item.Image.Empty() {
			item.Image.Close()
			failed++
			continue
		}

		output, colorMode, err := enhancer.Enhance(ctx, item.Image, alphaMode)
		item.Image.Close()
		if err != nil {
			utils.Logger.Error("failed to enhance image",
				zap.String("path", item.Path), zap.Error(err))
			failed++
			continue
		}

		writer.Submit(service.WriteTask{
			Output:   output,
			SavePath: savePath(item.Path, colorMode, output.Type()),
		})
		processed++
	}
}

// collectPaths 收集输入路径，目录则按文件名排序枚举图片文件
func collectPaths(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(input, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// savePath 生成输出文件路径；16位或带alpha的结果固定存PNG
func savePath(srcPath, colorMode string, matType gocv.MatType) string {
	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	switch matType {
	case gocv.MatTypeCV16UC1, gocv.MatTypeCV16UC3, gocv.MatTypeCV16UC4:
		ext = ".png"
	}
	if colorMode == service.ModeRGBA {
		ext = ".png"
	}

	return filepath.Join(outputDir, fmt.Sprintf("%s_%s%s", stem, suffix, ext))
}
