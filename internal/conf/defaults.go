// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with other packages.
const (
	DefaultQueueCapacity    = 100
	DefaultPhotoConcurrency = 4
	DefaultMQTTTopic        = "treetrack"
)

// setDefaultConfig sets default values on the global viper instance.
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "treetrack")
	v.SetDefault("main.role", RoleCompanion)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/treetrack.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 50)
	v.SetDefault("logging.file_output.max_age", 30)
	v.SetDefault("logging.file_output.max_rotated_files", 5)
	v.SetDefault("logging.file_output.compress", false)
	v.SetDefault("logging.tail_size", 64<<10)

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite.path", "treetrack.db")
	v.SetDefault("store.mysql.host", "localhost")
	v.SetDefault("store.mysql.port", "3306")
	v.SetDefault("store.mysql.database", "treetrack")
	v.SetDefault("store.slowquery", 200*time.Millisecond)

	v.SetDefault("photos.driver", "fs")
	v.SetDefault("photos.path", "photos")
	v.SetDefault("photos.s3.region", "us-east-1")
	v.SetDefault("photos.s3.prefix", "treetrack/")

	v.SetDefault("transfer.transport", "http")
	v.SetDefault("transfer.queuepath", "pending-transfers.json")
	v.SetDefault("transfer.capacity", DefaultQueueCapacity)
	v.SetDefault("transfer.retryinterval", time.Minute)
	v.SetDefault("transfer.retryrate", 0.2)
	v.SetDefault("transfer.retryburst", 1)
	v.SetDefault("transfer.sendtimeout", 10*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", 10*time.Second)

	v.SetDefault("companion.url", "http://localhost:8080")
	v.SetDefault("companion.timeout", 10*time.Second)

	v.SetDefault("import.photoconcurrency", DefaultPhotoConcurrency)
	v.SetDefault("import.maxphotobytes", 20<<20)
	v.SetDefault("import.dedupwindow", 24*time.Hour)
	v.SetDefault("import.inbox.enabled", false)
	v.SetDefault("import.inbox.path", "inbox")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.maxconnections", 64)
	v.SetDefault("webserver.bodylimit", "64M")
	v.SetDefault("webserver.allowedorigins", []string{"*"})
	v.SetDefault("webserver.shutdowntimeout", 10*time.Second)
	v.SetDefault("webserver.debug", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")

	v.SetDefault("publish.local.enabled", false)
	v.SetDefault("publish.local.path", "exports")
	v.SetDefault("publish.sftp.enabled", false)
	v.SetDefault("publish.sftp.port", 22)
	v.SetDefault("publish.sftp.timeout", 30*time.Second)
	v.SetDefault("publish.ftp.enabled", false)
	v.SetDefault("publish.ftp.port", 21)
	v.SetDefault("publish.ftp.timeout", 30*time.Second)

	v.SetDefault("catalog.path", "")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.events", []string{})
	v.SetDefault("notify.timeout", 10*time.Second)
}
