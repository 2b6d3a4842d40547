// Package state 运行时状态快照的持久化
//
// autosave.go 包含周期性自动保存：
//   - EnableAutoSave 幂等替换已有定时器
//   - DisableAutoSave 幂等停止并等待后台协程退出
//   - 自动保存失败只记日志，不影响守护进程运行
package state

import "time"

// EnableAutoSave 以固定间隔自动保存 snap() 产出的状态
//
// 再次调用会先停止旧定时器再启动新的，保证同一时刻至多一个自动保存循环。
func (m *Manager) EnableAutoSave(interval time.Duration, snap func() map[string]any) {
	if interval <= 0 || snap == nil {
		return
	}

	m.autosaveMu.Lock()
	defer m.autosaveMu.Unlock()
	m.stopAutosaveLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	m.autosaveStop = stop
	m.autosaveDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Save(snap()); err != nil {
					m.log.WithError(err).Error("autosave failed")
				}
			}
		}
	}()

	m.log.Info("autosave enabled", "interval", interval.String())
}

// DisableAutoSave 停止自动保存，未开启时为空操作
func (m *Manager) DisableAutoSave() {
	m.autosaveMu.Lock()
	defer m.autosaveMu.Unlock()
	if m.stopAutosaveLocked() {
		m.log.Info("autosave disabled")
	}
}

// stopAutosaveLocked 停止当前循环并等待退出，调用方需持 autosaveMu
func (m *Manager) stopAutosaveLocked() bool {
	if m.autosaveStop == nil {
		return false
	}
	close(m.autosaveStop)
	<-m.autosaveDone
	m.autosaveStop = nil
	m.autosaveDone = nil
	return true
}
