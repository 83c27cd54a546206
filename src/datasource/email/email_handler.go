// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"TripExplorer/src/storage"
)

// AttachmentHandler 把行程数据邮件的附件保存到数据目录
type AttachmentHandler struct {
	DataDir       string          // 附件保存目录
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex
}

func NewAttachmentHandler(dataDir string) *AttachmentHandler {
	return &AttachmentHandler{
		DataDir:       dataDir,
		processedUIDs: make(map[uint32]bool),
	}
}

// IsProcessed 检查邮件是否已处理过
func (h *AttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 保存第一个.csv/.xlsx附件并返回保存路径
// 邮件已处理过时返回空路径，没有行程附件时返回错误
func (h *AttachmentHandler) Handle(email *Email, logger *storage.Logger) (string, error) {
	if h.IsProcessed(email.UID) {
		logger.Debug(fmt.Sprintf("邮件已处理过(UID:%d)", email.UID))
		return "", nil
	}

	attachment := email.TripAttachment()
	if attachment == nil {
		return "", fmt.Errorf("邮件 %q 没有行程数据附件", email.Subject)
	}

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %v", err)
	}

	// 只取文件名，防止附件名带路径
	filePath := filepath.Join(h.DataDir, filepath.Base(attachment.Filename))
	tmp := filePath + ".part"
	if err := os.WriteFile(tmp, attachment.Content, 0644); err != nil {
		return "", fmt.Errorf("保存附件失败: %v", err)
	}
	// 先写临时文件再改名，watch模式只会看到完整文件
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("保存附件失败: %v", err)
	}

	h.markAsProcessed(email.UID)
	logger.Info(fmt.Sprintf("附件已保存到: %s (%d 字节, 发件人: %s)", filePath, len(attachment.Content), email.From))
	return filePath, nil
}
