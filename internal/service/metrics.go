package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scansTotal 按健康档位统计完成的扫描次数
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileguard_scans_total",
			Help: "Completed file scans by resulting health state",
		},
		[]string{"health"},
	)

	// backupsTotal 统计成功落库的备份次数
	backupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileguard_backups_total",
		Help: "Successfully recorded file backups",
	})

	// backupFailuresTotal 统计整体失败的备份操作
	backupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileguard_backup_failures_total",
		Help: "Backup operations that failed as a whole",
	})
)
