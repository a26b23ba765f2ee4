/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package topology resolves symbolic peer references into concrete
// transport endpoints: it catalogs each instance's channels, exchanges
// bound addresses through the registry, and matchmakes connect channels
// against their peers' sub-sockets.
package topology

import (
	"fmt"
	"strconv"
	"strings"
)

// Address placeholder before a socket is bound.
const AddressUnspecified = "unspecified"

// SocketProperty describes one messaging channel of an instance. It is
// persisted as a registry hash whose field names are those written by
// ToHash.
type SocketProperty struct {
	Name          string
	Type          string
	Method        string
	Address       string
	Transport     string
	SndBufSize    int
	RcvBufSize    int
	SndKernelSize int
	RcvKernelSize int
	Linger        int
	RateLogging   int
	PortRangeMin  int
	PortRangeMax  int
	AutoBind      bool

	NumSockets     int
	AutoSubChannel bool
	Bound          bool
}

// NewSocketProperty returns a property with the transport defaults.
func NewSocketProperty(name string) *SocketProperty {
	return &SocketProperty{
		Name:         name,
		Transport:    "zeromq",
		SndBufSize:   1000,
		RcvBufSize:   1000,
		Linger:       500,
		RateLogging:  1,
		PortRangeMin: 22000,
		PortRangeMax: 32000,
		AutoBind:     true,
	}
}

// SocketPropertyFromHash hydrates a property from a registry hash. Unknown
// fields are ignored; missing fields keep their defaults.
func SocketPropertyFromHash(name string, h map[string]string) *SocketProperty {
	sp := NewSocketProperty(name)

	for field, value := range h {
		switch field {
		case "name":
			if value != "" {
				sp.Name = value
			}
		case "type":
			sp.Type = value
		case "method":
			sp.Method = value
		case "address":
			sp.Address = value
		case "transport":
			if value != "" {
				sp.Transport = value
			}
		case "sndBufSize":
			sp.SndBufSize = atoiOr(value, sp.SndBufSize)
		case "rcvBufSize":
			sp.RcvBufSize = atoiOr(value, sp.RcvBufSize)
		case "sndKernelSize":
			sp.SndKernelSize = atoiOr(value, sp.SndKernelSize)
		case "rcvKernelSize":
			sp.RcvKernelSize = atoiOr(value, sp.RcvKernelSize)
		case "linger":
			sp.Linger = atoiOr(value, sp.Linger)
		case "rateLogging":
			sp.RateLogging = atoiOr(value, sp.RateLogging)
		case "portRangeMin":
			sp.PortRangeMin = atoiOr(value, sp.PortRangeMin)
		case "portRangeMax":
			sp.PortRangeMax = atoiOr(value, sp.PortRangeMax)
		case "autoBind":
			sp.AutoBind = truthy(value)
		case "numSockets":
			sp.NumSockets = atoiOr(value, sp.NumSockets)
		case "autoSubChannel":
			sp.AutoSubChannel = truthy(value)
		case "bound":
			sp.Bound = truthy(value)
		}
	}

	return sp
}

// ToHash flattens the property for HSET.
func (sp *SocketProperty) ToHash() map[string]string {
	return map[string]string{
		"name":           sp.Name,
		"type":           sp.Type,
		"method":         sp.Method,
		"address":        sp.Address,
		"transport":      sp.Transport,
		"sndBufSize":     strconv.Itoa(sp.SndBufSize),
		"rcvBufSize":     strconv.Itoa(sp.RcvBufSize),
		"sndKernelSize":  strconv.Itoa(sp.SndKernelSize),
		"rcvKernelSize":  strconv.Itoa(sp.RcvKernelSize),
		"linger":         strconv.Itoa(sp.Linger),
		"rateLogging":    strconv.Itoa(sp.RateLogging),
		"portRangeMin":   strconv.Itoa(sp.PortRangeMin),
		"portRangeMax":   strconv.Itoa(sp.PortRangeMax),
		"autoBind":       boolField(sp.AutoBind),
		"numSockets":     strconv.Itoa(sp.NumSockets),
		"autoSubChannel": boolField(sp.AutoSubChannel),
		"bound":          boolField(sp.Bound),
	}
}

// Addresses splits the (possibly comma-joined) address list, padded with
// "unspecified" up to the sub-socket count.
func (sp *SocketProperty) Addresses() []string {
	n := sp.NumSockets
	if n < 1 {
		n = 1
	}

	var list []string
	if sp.Address != "" {
		list = strings.Split(sp.Address, ",")
	}

	for len(list) < n {
		list = append(list, AddressUnspecified)
	}

	return list
}

// ToChannelConfig renders the property as a FairMQ-style channel-config
// sub-option string for the device's channel factory.
func (sp *SocketProperty) ToChannelConfig() string {
	var address string

	switch {
	case sp.Address != "" && sp.Address != AddressUnspecified && !strings.Contains(sp.Address, ","):
		address = sp.Address
	case strings.Contains(sp.Address, ","):
		list := strings.Split(sp.Address, ",")
		for len(list) < sp.NumSockets {
			list = append(list, AddressUnspecified)
		}

		address = strings.Join(list, ",address=")
	default:
		address = AddressUnspecified
		for i := 0; i < sp.NumSockets-1; i++ {
			address += ",address=" + AddressUnspecified
		}
	}

	return fmt.Sprintf("name=%s,type=%s,method=%s,address=%s,transport=%s"+
		",rcvBufSize=%d,sndBufSize=%d,rcvKernelSize=%d,sndKernelSize=%d"+
		",linger=%d,rateLogging=%d,portRangeMin=%d,portRangeMax=%d,autoBind=%s",
		sp.Name, sp.Type, sp.Method, address, sp.Transport,
		sp.RcvBufSize, sp.SndBufSize, sp.RcvKernelSize, sp.SndKernelSize,
		sp.Linger, sp.RateLogging, sp.PortRangeMin, sp.PortRangeMax, boolField(sp.AutoBind))
}

// LinkProperty is a provisioner-declared pairing, normalized so My* refers
// to the owning instance's service.
type LinkProperty struct {
	MyService   string
	MyChannel   string
	PeerService string
	PeerChannel string
	Options     string
}

// Key returns the canonical pair name used to merge duplicate link
// declarations.
func (lp *LinkProperty) Key(separator string) string {
	return lp.MyService + separator + lp.MyChannel + "," + lp.PeerService + separator + lp.PeerChannel
}

// MakeAddress rewrites a wildcard tcp bind address into a concrete peer
// address: "tcp://0.0.0.0:5555" or "tcp://*:5555" becomes
// "tcp://<peerIP>:5555". Everything else passes through.
func MakeAddress(address, peerIP string) string {
	if !strings.HasPrefix(address, "tcp://") {
		return address
	}

	if !strings.Contains(address, "*") && !strings.Contains(address, "0.0.0.0") {
		return address
	}

	posPort := strings.LastIndex(address, ":")

	return "tcp://" + peerIP + address[posPort:]
}

func atoiOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}

	return fallback
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true":
		return true
	}

	return false
}

func boolField(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
