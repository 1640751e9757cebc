package oshandler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// PrefixToNetmask converts a CIDR prefix length to dotted-quad form,
// so 24 becomes "255.255.255.0".
func PrefixToNetmask(prefix int) (string, error) {
	if prefix < 0 || prefix > 32 {
		return "", fmt.Errorf("prefix length %d out of range", prefix)
	}

	mask := uint32(0)
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}

	octets := make([]string, 4)
	for i := 0; i < 4; i++ {
		octets[i] = strconv.Itoa(int(mask >> (8 * (3 - i)) & 0xff))
	}
	return strings.Join(octets, "."), nil
}

// NetmaskToPrefix converts a dotted-quad netmask to its prefix length,
// so "255.255.255.0" becomes 24. Non-contiguous masks are rejected.
func NetmaskToPrefix(netmask string) (int, error) {
	parts := strings.Split(netmask, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("invalid netmask %q", netmask)
	}

	var mask uint32
	for _, part := range parts {
		octet, err := strconv.Atoi(part)
		if err != nil || octet < 0 || octet > 255 {
			return 0, fmt.Errorf("invalid netmask %q", netmask)
		}
		mask = mask<<8 | uint32(octet)
	}

	prefix := bits.OnesCount32(mask)
	if prefix > 0 && mask != ^uint32(0)<<(32-prefix) {
		return 0, fmt.Errorf("non-contiguous netmask %q", netmask)
	}
	return prefix, nil
}
