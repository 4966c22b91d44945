package service

import (
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Pe4enIks/Real-ESRGAN/utils"
)

// PrefetchItem 预取队列元素，Image 的所有权随元素转移给消费方
type PrefetchItem struct {
	Path  string
	Image gocv.Mat
}

// PrefetchReader 后台按给定顺序解码图片，写入有界通道。
// 通道写满时生产者阻塞（对磁盘读施加背压），读完全部路径后关闭通道。
type PrefetchReader struct {
	paths []string
	queue chan PrefetchItem
}

func NewPrefetchReader(paths []string, queueSize int) *PrefetchReader {
	return &PrefetchReader{
		paths: paths,
		queue: make(chan PrefetchItem, queueSize),
	}
}

// Start 启动生产者协程，只能调用一次
func (r *PrefetchReader) Start() {
	go func() {
		for _, path := range r.paths {
			img := gocv.IMRead(path, gocv.IMReadUnchanged)
			if img.Empty() {
				utils.Logger.Warn("failed to decode image", zap.String("path", path))
			}
			r.queue <- PrefetchItem{Path: path, Image: img}
		}
		close(r.queue)
	}()
}

// Next 取下一张图；序列耗尽后永远返回 ok == false
func (r *PrefetchReader) Next() (PrefetchItem, bool) {
	item, ok := <-r.queue
	return item, ok
}

// WriteTask 待落盘的处理结果
type WriteTask struct {
	Output   gocv.Mat
	SavePath string
}

// IOWriter 写盘消费者组：多个 worker 从同一有界通道取任务，
// 通道自身保证互斥弹出；关闭通道并排空即为退出信号
type IOWriter struct {
	queue chan WriteTask
	wg    sync.WaitGroup
}

func NewIOWriter(queueSize, workers int) *IOWriter {
	w := &IOWriter{
		queue: make(chan WriteTask, queueSize),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
	return w
}

func (w *IOWriter) run(id int) {
	defer w.wg.Done()
	for task := range w.queue {
		if ok := gocv.IMWrite(task.SavePath, task.Output); !ok {
			utils.Logger.Error("failed to write output",
				zap.Int("worker", id),
				zap.String("path", task.SavePath))
		} else {
			utils.Logger.Debug("output written",
				zap.Int("worker", id),
				zap.String("path", task.SavePath))
		}
		task.Output.Close()
	}
	utils.Logger.Info("io worker is done", zap.Int("worker", id))
}

// Submit 入队一个写任务，队列满时阻塞
func (w *IOWriter) Submit(task WriteTask) {
	w.queue <- task
}

// Close 关闭队列并等待所有 worker 写完退出
func (w *IOWriter) Close() {
	close(w.queue)
	w.wg.Wait()
}
