package fetch

import (
	"fmt"
	"math/rand"

	"github.com/trogers1052/fund-quotes/internal/config"
)

var userAgents = map[string][]string{
	config.UserAgentChrome: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	},
	config.UserAgentFirefox: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:131.0) Gecko/20100101 Firefox/131.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:131.0) Gecko/20100101 Firefox/131.0",
		"Mozilla/5.0 (X11; Linux x86_64; rv:130.0) Gecko/20100101 Firefox/130.0",
	},
	config.UserAgentSafari: {
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 18_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Mobile/15E148 Safari/604.1",
	},
}

// UserAgent picks a user agent string for the given browser choice.
// "random" picks from every browser in the catalog.
func UserAgent(choice string, rng *rand.Rand) (string, error) {
	var pool []string
	switch choice {
	case config.UserAgentRandom:
		for _, browser := range []string{config.UserAgentChrome, config.UserAgentFirefox, config.UserAgentSafari} {
			pool = append(pool, userAgents[browser]...)
		}
	default:
		pool = userAgents[choice]
	}
	if len(pool) == 0 {
		return "", fmt.Errorf("unknown user agent %q", choice)
	}
	return pool[rng.Intn(len(pool))], nil
}
