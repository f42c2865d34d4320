// Package jobrunner 实现了带步骤记忆和重试的任务运行器。
package jobrunner

import "errors"

// terminalError 标记一个不应再重试的错误。
// 实体不存在、内容性问题（如扫描版 PDF 没有文本层）、提供方配额
// 耗尽都属于这一类：重试不会改变结果。
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal 将错误标记为终态，运行器遇到后立即停止重试。
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal 判断错误链中是否存在终态标记。
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}
