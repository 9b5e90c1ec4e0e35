package modem

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/tuhh-eit/ahoi-modem/transport"
)

// Program flashes a new firmware image via stm32flash. It is only valid
// when the modem is connected over a Serial transport: the port must be
// released for the external flashing tool to use directly, then
// reacquired. If empty is false, the modem is asked to enter its
// bootloader first. Any failure reacquires the port and issues a Reset.
func (m *Modem) Program(img string, empty bool) error {
	m.mu.Lock()
	s, ok := m.tp.(*transport.Serial)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("modem: programming only supported via serial connection")
	}

	if _, err := os.Stat(img); err != nil {
		return fmt.Errorf("modem: firmware image %q does not exist: %w", img, err)
	}

	if !empty {
		if err := m.StartBootloader(); err != nil {
			return fmt.Errorf("modem: failed to enter bootloader: %w", err)
		}
	}

	s.Disconnect()

	dev := s.Device()
	cmd := exec.Command("stm32flash", "-w", img, "-v", "-R", "-b", "115200", dev)
	if err := cmd.Run(); err != nil {
		if reconnErr := s.Reconnect(); reconnErr != nil {
			return fmt.Errorf("modem: programming failed (%w) and could not reconnect: %w", err, reconnErr)
		}
		if resetErr := m.Reset(); resetErr != nil {
			return fmt.Errorf("modem: programming failed: %w", err)
		}
		return fmt.Errorf("modem: programming failed, device reset: %w", err)
	}

	if err := s.Reconnect(); err != nil {
		return fmt.Errorf("modem: programming succeeded but reconnect failed: %w", err)
	}

	return nil
}
