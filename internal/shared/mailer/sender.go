package mailer

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RecipientResult 单个收件人的发送结果
type RecipientResult struct {
	Email string `json:"email"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Sender 邮件发送接口
// Send 逐个收件人返回结果，部分失败不影响其余收件人
type Sender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) []RecipientResult
}

// 并发发送上限，避免压垮邮件网关
const maxConcurrentSends = 5

// Send 向多个收件人并发发送同一封邮件
func (c *MailClient) Send(ctx context.Context, to []string, subject, htmlBody string) []RecipientResult {
	results := make([]RecipientResult, 0, len(to))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)
	for _, email := range to {
		email := email
		g.Go(func() error {
			r := RecipientResult{Email: email, OK: true}
			if err := c.SendOne(gctx, email, subject, htmlBody); err != nil {
				r.OK = false
				r.Error = err.Error()
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Email < results[j].Email })
	return results
}
