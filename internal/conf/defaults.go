// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default endpoints of the Baidu vehicle recognition service.
const (
	DefaultBaiduEndpoint = "https://aip.baidubce.com/rest/2.0/image-classify/v1/car"
	DefaultBaiduTokenURL = "https://aip.baidubce.com/oauth/2.0/token"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", "logs/carnet.log")
	viper.SetDefault("logging.file_output.level", "info")
	viper.SetDefault("logging.file_output.flush_interval", "5s")

	viper.SetDefault("train.trainpath", "data/train")
	viper.SetDefault("train.testpath", "data/test")
	viper.SetDefault("train.checkpoint", "model/carnet.ckpt")
	viper.SetDefault("train.imagesize", 224)
	viper.SetDefault("train.batchsize", 32)
	viper.SetDefault("train.epochs", 200)
	viper.SetDefault("train.decayepoch", 60)
	viper.SetDefault("train.learningrate", 1e-3)
	viper.SetDefault("train.decayfactor", 0.1)
	viper.SetDefault("train.retrain", false)
	viper.SetDefault("train.bestloss", 0.3)
	viper.SetDefault("train.savebest", true)
	viper.SetDefault("train.loss", "smoothl1")
	viper.SetDefault("train.optimizer", "adam")
	viper.SetDefault("train.momentum", 0.9)
	viper.SetDefault("train.optimizerreset", "reset")
	viper.SetDefault("train.seed", 1)
	viper.SetDefault("train.workers", 0)
	viper.SetDefault("train.diagnosticsdir", "diagnostics")
	viper.SetDefault("train.model.type", "mlp")
	viper.SetDefault("train.model.hidden", []int{128})
	viper.SetDefault("train.model.outputs", 8)

	viper.SetDefault("label.root", "")
	viper.SetDefault("label.extensions", []string{"jpg", "jpeg", "png"})
	viper.SetDefault("label.dryrun", false)
	viper.SetDefault("label.records", true)

	viper.SetDefault("baidu.endpoint", DefaultBaiduEndpoint)
	viper.SetDefault("baidu.tokenurl", DefaultBaiduTokenURL)
	viper.SetDefault("baidu.apikey", "")
	viper.SetDefault("baidu.secretkey", "")
	viper.SetDefault("baidu.tokens", []string{})
	viper.SetDefault("baidu.topnum", 5)
	viper.SetDefault("baidu.timeout", 30*time.Second)
	viper.SetDefault("baidu.ratelimit", 2.0)
	viper.SetDefault("baidu.retries", 3)
	viper.SetDefault("baidu.retrybackoff", 500*time.Millisecond)
	viper.SetDefault("baidu.cachettl", 24*time.Hour)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "carnet.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "carnet")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "carnet")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "carnet")
	viper.SetDefault("mqtt.clientid", "carnet")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.timeout", 10*time.Second)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.timeout", 10*time.Second)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9464")

	viper.SetDefault("artifacts.enabled", false)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.debug", false)
}
