package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
)

var ErrWorkerClosed = errors.New("cleanup worker is closed")

// Deleter 是實際執行物件刪除的後端，通常是 S3 客戶端
type Deleter interface {
	DeleteImage(ctx context.Context, uid, name string) error
}

type workerOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type WorkerOption func(*workerOptions)

// WithWorkerLogger 設置日誌記錄器
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		o.logger = logger
	}
}

// WithWorkerBufferSize 設置緩衝大小
func WithWorkerBufferSize(size int) WorkerOption {
	return func(o *workerOptions) {
		o.bufferSize = size
	}
}

type deleteTask struct {
	UID  string
	Name string
}

// Worker 在背景執行刊登圖片的串接刪除
// 每個任務只嘗試一次，失敗只記錄不重試，也不會回滾已完成的文件寫入
type Worker struct {
	deleter    Deleter
	upstream   *chanx.UnboundedChan[deleteTask]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    workerOptions
}

func NewWorker(deleter Deleter, opts ...WorkerOption) (*Worker, error) {
	if deleter == nil {
		return nil, errors.New("deleter cannot be nil")
	}

	// 默認選項
	options := workerOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Worker{
		deleter: deleter,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "CleanupWorker")),
		options: options,
	}, nil
}

func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.upstream = chanx.NewUnboundedChan[deleteTask](ctx, w.options.bufferSize)
	w.cancelFunc = cancel
	w.closed = false
	w.logger.Info("starting cleanup worker")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.logger.Info("cleanup worker stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case task := <-w.upstream.Out:
				if err := w.deleter.DeleteImage(ctx, task.UID, task.Name); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					w.logger.Error("Fail to delete image",
						slog.String("uid", task.UID),
						slog.String("name", task.Name),
						slog.Any("error", err))
					continue
				}
				w.logger.Debug("image deleted",
					slog.String("uid", task.UID),
					slog.String("name", task.Name))
			}
		}
	}()
}

// DeleteImage 將刪除任務放入佇列後立即返回
// 任務的成敗由背景 goroutine 記錄，呼叫端不會等待
// 關閉後的呼叫回傳 ErrWorkerClosed，不會寫入已停止消費的佇列
func (w *Worker) DeleteImage(_ context.Context, uid, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	w.upstream.In <- deleteTask{UID: uid, Name: name}
	return nil
}

func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.logger.Info("closing cleanup worker")
	w.closed = true
	w.cancelFunc()
	w.mu.Unlock()
	w.wg.Wait()
	w.logger.Info("cleanup worker closed")
}
