package gateway

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientKey identifies the caller for rate limiting: an explicit client id
// header first, then a user-agent fingerprint, then the remote address.
func ClientKey(c *fiber.Ctx, clientIDHeader string) string {
	if clientIDHeader != "" {
		if id := strings.TrimSpace(c.Get(clientIDHeader)); id != "" {
			return "id:" + id
		}
	}
	if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(ua))
		return "ua:" + strconv.FormatUint(h.Sum64(), 16)
	}
	if ip := c.IP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}
