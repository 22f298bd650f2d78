package screen

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhinengmahua/litscreen/types"
)

// ReviewBatch 批量筛选：与 texts 等长、顺序一致的结果列表。
// 结果写入按原始下标预分配的槽位，与任务完成顺序无关。
//
// Workers <= 1 时严格串行执行（便于确定性调试）；
// 否则以固定大小 worker 池并发。单项失败绝不中断整批：
// 任务边界捕获 panic 并降级为 unsure；context 取消后停止派发新任务，
// 在途任务自行完成或超时，未派发的槽位以 unsure 结清。
func (s *Screener) ReviewBatch(ctx context.Context, texts []string) []types.Result {
	results := make([]types.Result, len(texts))
	if len(texts) == 0 {
		return results
	}

	if s.cfg.Workers <= 1 {
		for i, text := range texts {
			if ctx.Err() != nil {
				results[i] = types.Result{Decision: types.DecisionUnsure, Notes: NoteBatchCancelled}
				continue
			}
			results[i] = s.reviewTask(ctx, i, text)
		}
		return results
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)

	for i, text := range texts {
		if ctx.Err() != nil {
			// 停止派发；该槽位直接结清
			results[i] = types.Result{Decision: types.DecisionUnsure, Notes: NoteBatchCancelled}
			continue
		}

		g.Go(func() error {
			results[i] = s.reviewTask(ctx, i, text)
			return nil // 单项失败不终止整批
		})
	}

	// 任务从不返回错误，Wait 仅用于汇合
	_ = g.Wait()
	return results
}

// reviewTask 是单条文本的任务边界：捕获一切意外 panic，
// 记录堆栈后降级为 unsure，而不是让一个失败拖垮整批。
func (s *Screener) reviewTask(ctx context.Context, idx int, text string) (res types.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("并发任务发生意外异常",
				zap.Int("index", idx),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = types.Result{Decision: types.DecisionUnsure, Notes: NoteTaskPanic}
		}
	}()

	return s.ReviewSingle(ctx, text)
}
