package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// =============================================================================
// MailClient — 邮件网关API客户端
// 封装对邮件网关的HTTP调用，供审批通知、供应商变更通知等模块共用
// =============================================================================

// MailClient 邮件网关客户端
type MailClient struct {
	baseURL    string
	apiKey     string
	fromName   string
	fromEmail  string
	httpClient *http.Client
}

// NewClient 创建邮件网关客户端实例
func NewClient(baseURL, apiKey, fromName, fromEmail string) *MailClient {
	return &MailClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		fromName:  fromName,
		fromEmail: fromEmail,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// sendRequest 邮件网关发送请求体
type sendRequest struct {
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTMLBody  string `json:"html_body"`
}

// sendResponse 邮件网关响应
type sendResponse struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	MessageID string `json:"message_id"`
}

// SendOne 发送一封邮件给单个收件人
func (c *MailClient) SendOne(ctx context.Context, to, subject, htmlBody string) error {
	reqBody := sendRequest{
		FromName:  c.fromName,
		FromEmail: c.fromEmail,
		To:        to,
		Subject:   subject,
		HTMLBody:  htmlBody,
	}
	bodyBytes, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/v1/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("创建邮件请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求邮件网关失败: %w", err)
	}
	defer resp.Body.Close()

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("解析邮件网关响应失败: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("邮件网关错误[%d]: %s", result.Code, result.Msg)
	}
	return nil
}
