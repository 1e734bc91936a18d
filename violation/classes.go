package violation

// UnknownVehicleClass is reported for class ids outside the vehicle model's label set
const UnknownVehicleClass = "Unknown"

var vehicleClasses = map[int]string{
	0: "Car",
	1: "Bus",
	2: "Truck",
	3: "Motorcycle",
}

// VehicleClassName maps vehicle detector class id to its name
func VehicleClassName(classID int) string {
	if name, ok := vehicleClasses[classID]; ok {
		return name
	}
	return UnknownVehicleClass
}
