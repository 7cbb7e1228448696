package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持 errors.Is：Code 与 Module 相同即视为同一类错误
//
// 推荐链路中的错误分类：
//   - OUT_OF_RANGE：查表下标超出已加载 checkpoint 的表大小，可恢复，只由编排层捕获并降级冷启动
//   - EMPTY_CANDIDATES：召回/冷启动没有候选，可恢复
//   - CHECKPOINT_CORRUPT：checkpoint 结构不匹配或无法解码，致命，必须暴露给运维
//   - UNAVAILABLE：外部协作方（目录存储等）不可用，直接透传给调用方
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "OUT_OF_RANGE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "model", "checkpoint"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 让 errors.Is 按 Module + Code 比较，而不是按指针比较。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Module == t.Module
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound          = "NOT_FOUND"          // 资源不存在
	ErrorCodeNotSupported      = "NOT_SUPPORTED"      // 操作不支持
	ErrorCodeUnavailable       = "UNAVAILABLE"        // 服务不可用
	ErrorCodeInvalidInput      = "INVALID_INPUT"      // 输入无效
	ErrorCodeOutOfRange        = "OUT_OF_RANGE"       // 标识符超出 embedding 表范围
	ErrorCodeEmptyCandidates   = "EMPTY_CANDIDATES"   // 候选集为空
	ErrorCodeCheckpointCorrupt = "CHECKPOINT_CORRUPT" // checkpoint 损坏或结构不匹配
)

// 模块名称常量
const (
	ModuleStore      = "store"      // 存储模块
	ModuleModel      = "model"      // 模型模块
	ModuleCheckpoint = "checkpoint" // checkpoint 模块
	ModuleRecall     = "recall"     // 召回模块
	ModuleCatalog    = "catalog"    // 目录（外部协作方）
)

var (
	// ErrOutOfRange 表示 embedding 查表越界，使用 errors.Is(err, ErrOutOfRange) 判断
	ErrOutOfRange = NewDomainError(ModuleModel, ErrorCodeOutOfRange, "model: identifier out of range")

	// ErrEmptyCandidates 表示召回或冷启动没有产生候选
	ErrEmptyCandidates = NewDomainError(ModuleRecall, ErrorCodeEmptyCandidates, "recall: empty candidate set")

	// ErrCheckpointCorrupt 表示 checkpoint 在可增长表之外存在结构不匹配
	ErrCheckpointCorrupt = NewDomainError(ModuleCheckpoint, ErrorCodeCheckpointCorrupt, "checkpoint: corrupt or structural mismatch")

	// ErrCatalogUnavailable 表示目录存储不可达
	ErrCatalogUnavailable = NewDomainError(ModuleCatalog, ErrorCodeUnavailable, "catalog: unavailable")
)

// OutOfRangeError 携带越界的表名、下标与表大小，Unwrap 到 ErrOutOfRange。
type OutOfRangeError struct {
	Table string
	ID    int64
	Rows  int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("model: identifier %d out of range for table %q (rows=%d)", e.ID, e.Table, e.Rows)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeUnavailable
	}
	return false
}

// IsOutOfRange 检查错误是否为查表越界
func IsOutOfRange(err error) bool {
	return errors.Is(err, ErrOutOfRange)
}

// IsCheckpointCorrupt 检查错误是否为 checkpoint 结构不匹配
func IsCheckpointCorrupt(err error) bool {
	return errors.Is(err, ErrCheckpointCorrupt)
}

// CheckpointCorruptf 构造一个 Unwrap 到 ErrCheckpointCorrupt 的错误。
func CheckpointCorruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCheckpointCorrupt, fmt.Sprintf(format, args...))
}

// CatalogUnavailable 把外部协作方错误包装为 UNAVAILABLE，保留原始错误链。
func CatalogUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, op, err)
}
