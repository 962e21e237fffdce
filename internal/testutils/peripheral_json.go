package testutils

import (
	"encoding/json"

	"github.com/srg/bluart/internal/gatt"
)

type PeripheralJSONFull struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Address          string        `json:"address"`
	RSSI             int           `json:"rssi"`
	TxPower          *int          `json:"tx_power,omitempty"`
	Connectable      bool          `json:"connectable"`
	LastSeen         int64         `json:"last_seen"`
	Services         []ServiceJSON `json:"services"`
	ManufacturerData interface{}   `json:"manufacturer_data,omitempty"`
	ServiceData      interface{}   `json:"service_data,omitempty"`
}

type ServiceJSON struct {
	UUID            string               `json:"uuid"`
	Characteristics []CharacteristicJSON `json:"characteristics"`
}

type CharacteristicJSON struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"`
	Value      string `json:"value"`
}

// PeripheralToJSON converts a gatt.PeripheralInfo to a JSON string
func PeripheralToJSON(p gatt.PeripheralInfo) string {
	// Advertised services are just UUIDs, no characteristics until connected
	var services []ServiceJSON
	for _, serviceUUID := range p.AdvertisedServices() {
		services = append(services, ServiceJSON{
			UUID:            serviceUUID,
			Characteristics: []CharacteristicJSON{},
		})
	}

	// Keep manufacturer and service data as byte arrays (closer to BLE format)
	// Convert []byte to []int to avoid base64 encoding
	var manufData interface{}
	if p.ManufacturerData() != nil {
		byteData := p.ManufacturerData()
		intData := make([]int, len(byteData))
		for i, b := range byteData {
			intData[i] = int(b)
		}
		manufData = intData
	}

	var serviceData interface{}
	if len(p.ServiceData()) > 0 {
		svcData := make(map[string][]int)
		for k, v := range p.ServiceData() {
			intData := make([]int, len(v))
			for i, b := range v {
				intData[i] = int(b)
			}
			svcData[k] = intData
		}
		serviceData = svcData
	}

	jsonStruct := PeripheralJSONFull{
		ID:               p.ID(),
		Name:             p.Name(),
		Address:          p.Address(),
		RSSI:             p.RSSI(),
		TxPower:          p.TxPower(),
		Connectable:      p.IsConnectable(),
		LastSeen:         p.LastSeen().Unix(),
		Services:         services,
		ManufacturerData: manufData,
		ServiceData:      serviceData,
	}

	b, err := json.Marshal(jsonStruct)
	if err != nil {
		panic(err)
	}

	return string(b)
}
